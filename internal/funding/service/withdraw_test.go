package service_test

import (
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"kinledger/internal/funding/service"
	"kinledger/internal/funding/service/mocks"
	hhservice "kinledger/internal/household/service"
	ledgermodels "kinledger/internal/ledger/models"
	"kinledger/internal/payout/rail"
	railmocks "kinledger/internal/payout/rail/mocks"
	"kinledger/internal/testkit"
	dErrors "kinledger/pkg/domain-errors"
)

type WithdrawalSuite struct {
	suite.Suite
	stack   *testkit.Stack
	sandbox *rail.Sandbox
	service *service.Service
}

func TestWithdrawalSuite(t *testing.T) {
	suite.Run(t, new(WithdrawalSuite))
}

func (s *WithdrawalSuite) SetupTest() {
	s.sandbox = rail.NewSandbox()
	s.build(testkit.NewStack(s.T(), testkit.WithRail(s.sandbox)))
	s.setAccount("0123456789")
}

func (s *WithdrawalSuite) build(stack *testkit.Stack) {
	s.stack = stack
	s.service = service.New(stack.Tx, stack.Ledger, stack.Households,
		mocks.NewMockCheckout(gomock.NewController(s.T())), stack.Idempotency,
		service.WithLogger(stack.Logger),
		service.WithEvents(stack.Events),
		service.WithTransfers(stack.Dispatcher),
	)
}

func (s *WithdrawalSuite) setAccount(number string) {
	_, err := s.stack.Households.PutPrimaryAccount(s.stack.Ctx, s.stack.Owner, hhservice.PrimaryAccountInput{
		AccountName:   "Ada Okafor",
		AccountNumber: number,
		BankCode:      "058",
		BankName:      "GTBank",
	})
	s.Require().NoError(err)
}

func (s *WithdrawalSuite) withdraw(amount int64, key string) (*service.Withdrawal, error) {
	return s.service.Withdraw(s.stack.Ctx, service.WithdrawCommand{
		Actor:          s.stack.Owner,
		AmountCents:    amount,
		IdempotencyKey: key,
	})
}

func (s *WithdrawalSuite) TestWithdrawReservesAndSends() {
	s.stack.Fund(10_000)

	w, err := s.withdraw(4_000, "wd-1")
	s.Require().NoError(err)
	s.Equal(ledgermodels.StatusPending, w.Status)
	s.Equal("NGN", w.Currency)

	b := s.stack.Balance()
	s.Equal(int64(10_000), b.BalanceCents)
	s.Equal(int64(6_000), b.AvailableCents)
	s.Equal(int64(4_000), b.PendingOutCents)

	sent := s.sandbox.Transfers()
	s.Require().Len(sent, 1)
	s.Equal(rail.WithdrawalReference(w.TransactionID.String()), sent[0].Reference)
	s.Equal("0123456789", sent[0].AccountNumber)
	s.Equal(int64(4_000), sent[0].AmountCents)
	s.Contains(s.stack.EventTypes(), "balance.withdrawal_initiated")

	s.Run("replay returns the same withdrawal without sending again", func() {
		again, err := s.withdraw(4_000, "wd-1")
		s.Require().NoError(err)
		s.Equal(w.TransactionID, again.TransactionID)
		s.Len(s.sandbox.Transfers(), 1)
	})

	s.Run("reused key with another amount", func() {
		_, err := s.withdraw(5_000, "wd-1")
		s.True(dErrors.HasCode(err, dErrors.CodeIdempotencyConflict))
	})
	s.stack.Verify()
}

func (s *WithdrawalSuite) TestWithdrawGuards() {
	s.stack.Fund(1_000)

	s.Run("dependent is forbidden", func() {
		_, err := s.service.Withdraw(s.stack.Ctx, service.WithdrawCommand{
			Actor: s.stack.Member, AmountCents: 500, IdempotencyKey: "wd-1",
		})
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("more than the available balance", func() {
		_, err := s.withdraw(1_001, "wd-2")
		s.True(dErrors.HasCode(err, dErrors.CodeInsufficientBalance))
	})

	s.Run("zero amount", func() {
		_, err := s.withdraw(0, "wd-3")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Empty(s.sandbox.Transfers())
	s.Equal(int64(1_000), s.stack.Balance().AvailableCents)
}

func (s *WithdrawalSuite) TestWithdrawNeedsPrimaryAccount() {
	s.sandbox = rail.NewSandbox()
	s.build(testkit.NewStack(s.T(), testkit.WithRail(s.sandbox)))
	s.stack.Fund(1_000)

	_, err := s.withdraw(500, "wd-1")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	s.Zero(s.stack.Balance().PendingOutCents)
}

func (s *WithdrawalSuite) TestRejectedTransferReleasesReservation() {
	s.setAccount("0690000000")
	s.stack.Fund(5_000)

	_, err := s.withdraw(2_000, "wd-1")
	s.True(dErrors.HasCode(err, dErrors.CodePaymentError))

	b := s.stack.Balance()
	s.Equal(int64(5_000), b.AvailableCents)
	s.Zero(b.PendingOutCents)
	s.Contains(s.stack.EventTypes(), "balance.withdrawal_failed")

	s.Run("replay reports the failed withdrawal", func() {
		w, err := s.withdraw(2_000, "wd-1")
		s.Require().NoError(err)
		s.Equal(ledgermodels.StatusFailed, w.Status)
	})
	s.stack.Verify()
}

func (s *WithdrawalSuite) TestTimeoutLeavesWithdrawalPending() {
	ctrl := gomock.NewController(s.T())
	mock := railmocks.NewMockRail(ctrl)
	mock.EXPECT().Name().Return("mock").AnyTimes()
	mock.EXPECT().Transfer(gomock.Any(), gomock.Any()).
		Return(nil, &rail.ProviderError{Kind: rail.KindTimeout, Message: "no response"}).Times(2)
	s.build(testkit.NewStack(s.T(), testkit.WithRail(mock)))
	s.setAccount("0123456789")
	s.stack.Fund(5_000)

	w, err := s.withdraw(2_000, "wd-1")
	s.Require().NoError(err)
	s.Equal(ledgermodels.StatusPending, w.Status)
	s.Equal(int64(2_000), s.stack.Balance().PendingOutCents)
}

func (s *WithdrawalSuite) TestSettleWithdrawal() {
	s.stack.Fund(10_000)
	w, err := s.withdraw(4_000, "wd-1")
	s.Require().NoError(err)

	s.Run("mismatched amount or currency is refused", func() {
		_, err := s.service.SettleWithdrawal(s.stack.Ctx, w.TransactionID, ledgermodels.StatusCompleted, 1, "")
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		_, err = s.service.SettleWithdrawal(s.stack.Ctx, w.TransactionID, ledgermodels.StatusCompleted, 4_000, "USD")
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		s.Equal(int64(4_000), s.stack.Balance().PendingOutCents)
	})

	s.Run("completion debits the balance once", func() {
		changed, err := s.service.SettleWithdrawal(s.stack.Ctx, w.TransactionID, ledgermodels.StatusCompleted, 4_000, "ngn")
		s.Require().NoError(err)
		s.True(changed)
		changed, err = s.service.SettleWithdrawal(s.stack.Ctx, w.TransactionID, ledgermodels.StatusCompleted, 4_000, "NGN")
		s.Require().NoError(err)
		s.False(changed)

		b := s.stack.Balance()
		s.Equal(int64(6_000), b.BalanceCents)
		s.Zero(b.PendingOutCents)
	})

	s.Run("reversal returns the money once", func() {
		changed, err := s.service.ReverseWithdrawal(s.stack.Ctx, w.TransactionID, "returned by bank")
		s.Require().NoError(err)
		s.True(changed)
		changed, err = s.service.ReverseWithdrawal(s.stack.Ctx, w.TransactionID, "returned by bank")
		s.Require().NoError(err)
		s.False(changed)
		s.Equal(int64(10_000), s.stack.Balance().BalanceCents)
	})

	s.Run("a top-up is not a withdrawal", func() {
		s.stack.Fund(1_000)
		page, _, _, err := s.stack.Ledger.List(s.stack.Ctx, s.stack.Owner.HouseholdID, ledgermodels.Filter{Direction: ledgermodels.DirectionIn, Type: ledgermodels.TypeFunding, Limit: 1})
		s.Require().NoError(err)
		s.Require().Len(page, 1)
		_, err = s.service.SettleWithdrawal(s.stack.Ctx, page[0].ID, ledgermodels.StatusCompleted, 0, "")
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
	s.stack.Verify()
}

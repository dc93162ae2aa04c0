package service

import (
	"context"
	"testing"

	"goldledger/internal/infrastructure/verification"
	"goldledger/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockVerifier struct {
	mock.Mock
}

func (m *mockVerifier) Verify(ctx context.Context, req *verification.Request) (*verification.Result, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*verification.Result)
	return res, args.Error(1)
}

func newKyc(t *testing.T) (*KycService, *mockVerifier, *harness) {
	t.Helper()
	h := newHarness(t)
	h.register(t, "9000000001")
	v := &mockVerifier{}
	return NewKycService(v, h.profiles), v, h
}

func TestKyc_PanAndAadhaarVerifyProfile(t *testing.T) {
	svc, v, h := newKyc(t)
	ctx := context.Background()
	ok := &verification.Result{Success: true, Message: "verified"}

	v.On("Verify", mock.Anything, mock.MatchedBy(func(r *verification.Request) bool {
		return r.Kind == verification.KindPan
	})).Return(ok, nil).Once()
	v.On("Verify", mock.Anything, mock.MatchedBy(func(r *verification.Request) bool {
		return r.Kind == verification.KindAadhaarOtpVerify
	})).Return(ok, nil).Once()

	res, err := svc.Verify(ctx, &verification.Request{
		Kind:    verification.KindPan,
		UserRef: "9000000001",
		Fields:  map[string]string{"pan": "ABCDE1234F"},
	})
	require.NoError(t, err)
	assert.True(t, res.Profile.PanVerified)
	assert.Equal(t, model.KycPending, res.Profile.KycStatus)

	res, err = svc.Verify(ctx, &verification.Request{
		Kind:    verification.KindAadhaarOtpVerify,
		UserRef: "9000000001",
		Fields:  map[string]string{"otp": "123456"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.KycVerified, res.Profile.KycStatus)

	stored, err := h.profiles.GetByPhone(ctx, "9000000001")
	require.NoError(t, err)
	assert.True(t, stored.PanVerified)
	assert.True(t, stored.AadhaarVerified)
	assert.Equal(t, model.KycVerified, stored.KycStatus)

	v.AssertExpectations(t)
}

func TestKyc_FailureEnvelopeSurfaced(t *testing.T) {
	svc, v, h := newKyc(t)
	ctx := context.Background()

	v.On("Verify", mock.Anything, mock.Anything).
		Return(&verification.Result{Success: false, Message: "PAN 姓名不匹配"}, nil).Once()

	_, err := svc.Verify(ctx, &verification.Request{Kind: verification.KindPan, UserRef: "9000000001"})
	var extErr *ExternalVerificationError
	require.ErrorAs(t, err, &extErr)
	assert.Equal(t, "PAN 姓名不匹配", extErr.Message)

	stored, err := h.profiles.GetByPhone(ctx, "9000000001")
	require.NoError(t, err)
	assert.False(t, stored.PanVerified)
	assert.Equal(t, model.KycNotStarted, stored.KycStatus)
}

func TestKyc_TimeoutPassesThrough(t *testing.T) {
	svc, v, _ := newKyc(t)

	v.On("Verify", mock.Anything, mock.Anything).Return(nil, verification.ErrTimeout).Once()

	_, err := svc.Verify(context.Background(), &verification.Request{Kind: verification.KindBank, UserRef: "9000000001"})
	assert.ErrorIs(t, err, ErrVerificationTimeout)
}

func TestKyc_OtpSendLeavesProfileUnchanged(t *testing.T) {
	svc, v, _ := newKyc(t)

	v.On("Verify", mock.Anything, mock.Anything).Return(&verification.Result{Success: true}, nil).Once()

	res, err := svc.Verify(context.Background(), &verification.Request{Kind: verification.KindAadhaarOtpSend, UserRef: "9000000001"})
	require.NoError(t, err)
	assert.Equal(t, model.KycNotStarted, res.Profile.KycStatus)
	assert.False(t, res.Profile.AadhaarVerified)
}

func TestKyc_RejectsBeforeCallingVerifier(t *testing.T) {
	svc, v, _ := newKyc(t)
	ctx := context.Background()

	_, err := svc.Verify(ctx, &verification.Request{Kind: "SELFIE", UserRef: "9000000001"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Verify(ctx, &verification.Request{Kind: verification.KindPan, UserRef: "unknown"})
	assert.ErrorIs(t, err, ErrProfileNotFound)

	v.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything)
}

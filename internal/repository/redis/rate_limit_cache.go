package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"food-auth-service/internal/client"
	"food-auth-service/internal/util"
)

const otpThrottlePrefix = "otp_throttle:"

// PhoneThrottle reserves a resend window per phone with SET NX PX.
type PhoneThrottle struct {
	client *client.RedisClient
}

func NewPhoneThrottle(client *client.RedisClient) *PhoneThrottle {
	return &PhoneThrottle{client: client}
}

func (t *PhoneThrottle) Allow(ctx context.Context, key string, window time.Duration) (bool, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	lockKey := otpThrottlePrefix + key
	ok, err := t.client.SetNX(ctx, lockKey, "1", window)
	if err != nil {
		util.Error("Failed to reserve OTP window", zap.Duration("window", window), zap.Error(err))
		return false, 0, fmt.Errorf("failed to reserve OTP window: %w", err)
	}
	if ok {
		return true, 0, nil
	}

	remaining, err := t.client.PTTL(ctx, lockKey)
	if err != nil {
		return false, 0, fmt.Errorf("failed to read OTP window: %w", err)
	}
	if remaining < 0 {
		remaining = window
	}
	return false, remaining, nil
}

package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// AWSSESEmailService delivers OTP mails via AWS SES
type AWSSESEmailService struct {
	sesClient   *ses.Client
	fromAddress string
	logger      *slog.Logger
}

// NewAWSSESEmailService creates a new AWS SES email service
func NewAWSSESEmailService(region, fromAddress string, logger *slog.Logger) (*AWSSESEmailService, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSSESEmailService{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		logger:      logger,
	}, nil
}

// SendOtpEmail sends a login verification code
func (s *AWSSESEmailService) SendOtpEmail(ctx context.Context, to, username, code string, validMinutes int) error {
	subject := "Your verification code"
	body := fmt.Sprintf(
		"Hello %s,\n\nYour verification code is: %s\n\nThis code expires in %d minutes. If you did not request it, you can ignore this email.\n",
		username, code, validMinutes)

	return s.send(ctx, to, subject, body)
}

// SendPasswordResetEmail sends a password reset code
func (s *AWSSESEmailService) SendPasswordResetEmail(ctx context.Context, to, username, code string, validMinutes int) error {
	subject := "Your password reset code"
	body := fmt.Sprintf(
		"Hello %s,\n\nYour password reset code is: %s\n\nThis code expires in %d minutes. If you did not request a reset, please secure your account.\n",
		username, code, validMinutes)

	return s.send(ctx, to, subject, body)
}

func (s *AWSSESEmailService) send(ctx context.Context, to, subject, body string) error {
	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(body)},
			},
		},
	}

	if _, err := s.sesClient.SendEmail(ctx, input); err != nil {
		s.logger.Error("failed to send email", slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	return nil
}

// MockEmailService logs instead of sending. Used in development and tests.
type MockEmailService struct {
	logger *slog.Logger
}

// NewMockEmailService creates a mock email sender
func NewMockEmailService(logger *slog.Logger) *MockEmailService {
	return &MockEmailService{logger: logger}
}

func (s *MockEmailService) SendOtpEmail(ctx context.Context, to, username, code string, validMinutes int) error {
	s.logger.Info("mock otp email",
		slog.String("to", to),
		slog.String("username", username),
		slog.Int("valid_minutes", validMinutes))
	return nil
}

func (s *MockEmailService) SendPasswordResetEmail(ctx context.Context, to, username, code string, validMinutes int) error {
	s.logger.Info("mock password reset email",
		slog.String("to", to),
		slog.String("username", username),
		slog.Int("valid_minutes", validMinutes))
	return nil
}

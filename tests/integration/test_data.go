package integration

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// TestUser generates unique test user credentials using a timestamp
func TestUser(suffix string) (username, email, password string) {
	ts := time.Now().UnixNano()
	username = fmt.Sprintf("test_%d_%s", ts, suffix)
	email = fmt.Sprintf("test-%d-%s@example.com", ts, suffix)
	password = "TestPassword123!"
	return
}

// SentEmail is one captured outbound message
type SentEmail struct {
	To       string
	Username string
	Code     string
}

// CaptureEmailService records OTP mails for test assertions instead of
// sending them
type CaptureEmailService struct {
	mu         sync.Mutex
	OtpEmails  []SentEmail
	ResetMails []SentEmail
}

func (s *CaptureEmailService) SendOtpEmail(ctx context.Context, to, username, code string, validMinutes int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OtpEmails = append(s.OtpEmails, SentEmail{To: to, Username: username, Code: code})
	return nil
}

func (s *CaptureEmailService) SendPasswordResetEmail(ctx context.Context, to, username, code string, validMinutes int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetMails = append(s.ResetMails, SentEmail{To: to, Username: username, Code: code})
	return nil
}

// LastOtpCode returns the code from the most recent OTP email, or ""
func (s *CaptureEmailService) LastOtpCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.OtpEmails) == 0 {
		return ""
	}
	return s.OtpEmails[len(s.OtpEmails)-1].Code
}

// LastResetCode returns the code from the most recent reset email, or ""
func (s *CaptureEmailService) LastResetCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ResetMails) == 0 {
		return ""
	}
	return s.ResetMails[len(s.ResetMails)-1].Code
}

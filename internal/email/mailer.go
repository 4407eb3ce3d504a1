package email

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BizModelAI/Main12-sub002/internal/auth"
	"github.com/BizModelAI/Main12-sub002/internal/models"
)

// ErrUnsubscribed is returned when the recipient opted out of email
var ErrUnsubscribed = errors.New("recipient has unsubscribed")

// PasswordSetupTTL bounds how long a set-password link stays valid.
const PasswordSetupTTL = 24 * time.Hour

// Mailer sends the application's transactional emails.
type Mailer interface {
	SendQuizResults(ctx context.Context, user *models.User, attempt *models.QuizAttempt) error
	SendUnlockReceipt(ctx context.Context, user *models.User, payment *models.Payment) error
}

// Service renders and sends emails. Every email carries a signed
// unsubscribe link.
type Service struct {
	sender      Sender
	tokens      *auth.TokenService
	frontendURL string
	apiURL      string
	log         *zap.Logger
}

// NewService creates an email service. Links to results point at
// frontendURL; unsubscribe links point at apiURL.
func NewService(sender Sender, tokens *auth.TokenService, frontendURL, apiURL string, log *zap.Logger) *Service {
	return &Service{
		sender:      sender,
		tokens:      tokens,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		apiURL:      strings.TrimRight(apiURL, "/"),
		log:         log.Named("email"),
	}
}

// SendQuizResults emails a link to an attempt's results.
func (s *Service) SendQuizResults(ctx context.Context, user *models.User, attempt *models.QuizAttempt) error {
	if user.IsUnsubscribed {
		return ErrUnsubscribed
	}
	unsub, err := s.UnsubscribeURL(user.ID)
	if err != nil {
		return err
	}
	data := quizResultsData{
		Name:           displayName(user),
		ResultsURL:     s.resultsURL(attempt.ID),
		UnsubscribeURL: unsub,
	}
	if attempt.ExpiresAt != nil && !attempt.IsPaid {
		data.ExpiresAt = attempt.ExpiresAt.Format("January 2, 2006")
	}
	html, err := render(quizResultsTmpl, data)
	if err != nil {
		return err
	}
	return s.send(ctx, user, "Your BizModelAI results", html, unsub)
}

// SendUnlockReceipt emails a receipt for a completed report unlock.
func (s *Service) SendUnlockReceipt(ctx context.Context, user *models.User, payment *models.Payment) error {
	if user.IsUnsubscribed {
		return ErrUnsubscribed
	}
	unsub, err := s.UnsubscribeURL(user.ID)
	if err != nil {
		return err
	}
	data := receiptData{
		Name:           displayName(user),
		Amount:         fmt.Sprintf("$%.2f", payment.Amount()),
		PaymentID:      payment.ID,
		UnsubscribeURL: unsub,
	}
	if payment.QuizAttemptID != nil {
		data.ResultsURL = s.resultsURL(*payment.QuizAttemptID)
	} else {
		data.ResultsURL = s.frontendURL
	}
	if !user.IsTemporary && !user.HasPassword() {
		if data.SetPasswordURL, err = s.PasswordSetupURL(user.ID); err != nil {
			return err
		}
	}
	html, err := render(receiptTmpl, data)
	if err != nil {
		return err
	}
	return s.send(ctx, user, "Your BizModelAI report is unlocked", html, unsub)
}

// SendPasswordSetup emails a link for choosing the first password of an
// account. It is sent even to unsubscribed users.
func (s *Service) SendPasswordSetup(ctx context.Context, user *models.User) error {
	unsub, err := s.UnsubscribeURL(user.ID)
	if err != nil {
		return err
	}
	link, err := s.PasswordSetupURL(user.ID)
	if err != nil {
		return err
	}
	html, err := render(passwordSetupTmpl, passwordSetupData{
		Name:           displayName(user),
		SetPasswordURL: link,
		UnsubscribeURL: unsub,
	})
	if err != nil {
		return err
	}
	return s.send(ctx, user, "Set your BizModelAI password", html, unsub)
}

// PasswordSetupURL returns a frontend link carrying a short-lived token that
// authorizes setting the password of userID.
func (s *Service) PasswordSetupURL(userID int64) (string, error) {
	token, err := s.tokens.Issue(auth.PurposePasswordSetup, strconv.FormatInt(userID, 10), PasswordSetupTTL)
	if err != nil {
		return "", fmt.Errorf("issue password setup token: %w", err)
	}
	return s.frontendURL + "/set-password?token=" + url.QueryEscape(token), nil
}

// VerifyPasswordSetupToken returns the user id a password setup token was issued for.
func (s *Service) VerifyPasswordSetupToken(token string) (int64, error) {
	return s.verify(auth.PurposePasswordSetup, token)
}

// UnsubscribeURL returns the one-click unsubscribe link for a user.
func (s *Service) UnsubscribeURL(userID int64) (string, error) {
	token, err := s.tokens.Issue(auth.PurposeUnsubscribe, strconv.FormatInt(userID, 10), 0)
	if err != nil {
		return "", fmt.Errorf("issue unsubscribe token: %w", err)
	}
	return s.apiURL + "/api/email/unsubscribe?token=" + url.QueryEscape(token), nil
}

// VerifyUnsubscribeToken returns the user id an unsubscribe token was issued for.
func (s *Service) VerifyUnsubscribeToken(token string) (int64, error) {
	return s.verify(auth.PurposeUnsubscribe, token)
}

func (s *Service) verify(purpose, token string) (int64, error) {
	subject, err := s.tokens.Verify(purpose, token)
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseInt(subject, 10, 64)
	if err != nil {
		return 0, auth.ErrInvalidToken
	}
	return id, nil
}

func (s *Service) send(ctx context.Context, user *models.User, subject, html, unsub string) error {
	msg := Message{
		To:      user.Email,
		Subject: subject,
		HTML:    html,
		Headers: map[string]string{"List-Unsubscribe": "<" + unsub + ">"},
	}
	if err := s.sender.Send(ctx, msg); err != nil {
		s.log.Error("failed to send email", zap.Int64("user_id", user.ID), zap.String("subject", subject), zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) resultsURL(attemptID int64) string {
	return s.frontendURL + "/results/" + strconv.FormatInt(attemptID, 10)
}

func displayName(u *models.User) string {
	if u.FirstName != "" {
		return u.FirstName
	}
	return "there"
}

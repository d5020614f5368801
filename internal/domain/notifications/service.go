package notifications

import (
	"context"
	"sync"
	"time"

	"leaveflow/internal/domain/auth"
	"leaveflow/internal/requestctx"
)

const defaultMailTimeout = 30 * time.Second

type Mailer interface {
	Send(ctx context.Context, from, to, subject, body string) error
}

// Directory resolves recipients and their email addresses.
type Directory interface {
	FindUser(ctx context.Context, userID string) (auth.User, error)
	ListUsers(ctx context.Context) ([]auth.User, error)
}

type Service struct {
	store     StoreAPI
	Mailer    Mailer
	Directory Directory
	From      string
	// MailTimeout bounds each background send.
	MailTimeout time.Duration

	mail sync.WaitGroup
}

func New(store StoreAPI, mailer Mailer, directory Directory) *Service {
	return &Service{
		store:       store,
		Mailer:      mailer,
		Directory:   directory,
		From:        "no-reply@leaveflow.local",
		MailTimeout: defaultMailTimeout,
	}
}

// Create stores an in-app notification and, when a mailer is configured,
// mails a copy from a background goroutine bounded by MailTimeout. The
// caller never waits on SMTP; mail failures are logged, not returned.
func (s *Service) Create(ctx context.Context, userID, ntype, title, body, requestID string) error {
	if _, err := s.store.CreateNotification(ctx, Notification{
		UserID:    userID,
		Type:      ntype,
		Title:     title,
		Body:      body,
		RequestID: requestID,
	}); err != nil {
		return err
	}

	if s.Mailer == nil || s.Directory == nil {
		return nil
	}
	user, err := s.Directory.FindUser(ctx, userID)
	if err != nil {
		requestctx.Logger(ctx).Warn("notification email lookup failed", "userId", userID, "err", err)
		return nil
	}
	if user.Email == "" {
		return nil
	}

	timeout := s.MailTimeout
	if timeout <= 0 {
		timeout = defaultMailTimeout
	}
	logger := requestctx.Logger(ctx)
	mailCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	s.mail.Add(1)
	go func() {
		defer s.mail.Done()
		defer cancel()
		if err := s.Mailer.Send(mailCtx, s.From, user.Email, title, body); err != nil {
			logger.Warn("notification email send failed", "userId", userID, "err", err)
		}
	}()
	return nil
}

// Drain waits for mail handed off by Create to finish or time out.
func (s *Service) Drain() {
	s.mail.Wait()
}

func (s *Service) List(ctx context.Context, userID string, limit, offset int) ([]Notification, error) {
	return s.store.ListNotifications(ctx, userID, limit, offset)
}

func (s *Service) Count(ctx context.Context, userID string) (int, int, error) {
	return s.store.CountNotifications(ctx, userID)
}

func (s *Service) MarkRead(ctx context.Context, userID, notificationID string) error {
	return s.store.MarkRead(ctx, userID, notificationID)
}

package notification

import (
	"context"
	"time"
)

// Pusher delivers a stored notification to a live connection, if any.
type Pusher interface {
	Push(userID int64, n *Notification) bool
}

type Service struct {
	repo   *Repository
	pusher Pusher
	now    func() time.Time
}

func NewService(repo *Repository, pusher Pusher) *Service {
	return &Service{repo: repo, pusher: pusher, now: time.Now}
}

// Notify stores a notification for recipientID and pushes it when the user is connected.
func (s *Service) Notify(ctx context.Context, recipientID int64, kind Kind, relatedID int64) error {
	n := newNotification(recipientID, kind, relatedID)
	if err := s.repo.Create(ctx, n); err != nil {
		return err
	}
	if s.pusher != nil {
		s.pusher.Push(recipientID, n)
	}
	return nil
}

func (s *Service) List(ctx context.Context, userID int64, limit, offset int) ([]Notification, int64, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	list, total, err := s.repo.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, 0, err
	}
	unread, err := s.repo.CountUnread(ctx, userID)
	if err != nil {
		unread = 0
	}
	return list, unread, total, nil
}

func (s *Service) MarkAsRead(ctx context.Context, id, userID int64) error {
	return s.repo.MarkAsRead(ctx, id, userID, s.now())
}

func (s *Service) MarkAllAsRead(ctx context.Context, userID int64) (int64, error) {
	return s.repo.MarkAllAsRead(ctx, userID, s.now())
}

// PurgeRead deletes read notifications older than age.
func (s *Service) PurgeRead(ctx context.Context, age time.Duration) (int64, error) {
	return s.repo.DeleteReadBefore(ctx, s.now().Add(-age))
}

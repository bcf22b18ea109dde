package notification

import "time"

// Kind identifies what happened to the recipient's trip or payment.
type Kind string

const (
	KindBidReceived      Kind = "bid_received"
	KindBidAccepted      Kind = "bid_accepted"
	KindBidDeclined      Kind = "bid_declined"
	KindTripUpdated      Kind = "trip_updated"
	KindTripCancelled    Kind = "trip_cancelled"
	KindTripStarted      Kind = "trip_started"
	KindTripCompleted    Kind = "trip_completed"
	KindPaymentCompleted Kind = "payment_completed"
	KindPaymentFailed    Kind = "payment_failed"
)

var templates = map[Kind]struct{ title, message string }{
	KindBidReceived:      {"New driver offer", "A driver has offered to take your trip"},
	KindBidAccepted:      {"Offer accepted", "The passenger accepted your offer"},
	KindBidDeclined:      {"Offer declined", "Your offer was declined"},
	KindTripUpdated:      {"Trip updated", "Details of your trip have changed"},
	KindTripCancelled:    {"Trip cancelled", "Your trip has been cancelled"},
	KindTripStarted:      {"Trip started", "Your driver has started the trip"},
	KindTripCompleted:    {"Trip completed", "Your trip has been completed"},
	KindPaymentCompleted: {"Payment received", "Your payment was completed"},
	KindPaymentFailed:    {"Payment failed", "Your payment could not be completed"},
}

type Notification struct {
	ID        int64      `gorm:"primaryKey" json:"id"`
	UserID    int64      `gorm:"not null;index:idx_notifications_user_unread" json:"userId"`
	Kind      Kind       `gorm:"size:32;not null" json:"kind"`
	Title     string     `gorm:"size:120;not null" json:"title"`
	Message   string     `json:"message"`
	RelatedID int64      `json:"relatedId"`
	IsRead    bool       `gorm:"not null;default:false;index:idx_notifications_user_unread" json:"isRead"`
	ReadAt    *time.Time `json:"readAt,omitempty"`
	CreatedAt time.Time  `gorm:"index" json:"createdAt"`
}

func (Notification) TableName() string { return "notifications" }

func newNotification(userID int64, kind Kind, relatedID int64) *Notification {
	t, ok := templates[kind]
	if !ok {
		t.title, t.message = string(kind), ""
	}
	return &Notification{
		UserID:    userID,
		Kind:      kind,
		Title:     t.title,
		Message:   t.message,
		RelatedID: relatedID,
	}
}

package notification

import (
	"sync"
)

// NotificationService is an in-memory sink for operator-facing alerts;
// delivery (mail, UI toast) is an external collaborator that drains it.
type NotificationService struct {
	mu            sync.Mutex
	notifications []string
}

// Default is the process-wide sink used by the scheduled jobs.
var Default = NewNotificationService()

func NewNotificationService() *NotificationService {
	return &NotificationService{
		notifications: make([]string, 0),
	}
}

func (ns *NotificationService) AddNotification(notification string) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.notifications = append(ns.notifications, notification)
}

func (ns *NotificationService) GetNotifications() []string {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	out := make([]string, len(ns.notifications))
	copy(out, ns.notifications)
	return out
}

func (ns *NotificationService) ClearNotifications() {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.notifications = ns.notifications[:0]
}

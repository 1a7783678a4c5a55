package auth

import (
	"ArtiBudget/internal/logger"
	"ArtiBudget/internal/serviceiface"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

type UserSession struct {
	SessionID     string
	UserID        string
	Name          string
	Email         string
	Role          string
	RoleCode      string
	LastLoginTime string
	ClientIP      string
	IsLoggedIn    bool
}

type AuthService struct {
	db                   *sql.DB
	maxUsers             int
	sessionTimeout       time.Duration
	maxLoginAttempts     int
	accountLockDuration  time.Duration
	sessionCleanerPeriod time.Duration

	users        map[string]*UserSession
	userPointers map[string]*UserSession
	failedLogins map[string]int
	lockedUntil  map[string]time.Time
	lastSeen     map[string]time.Time
	mu           sync.Mutex
	stopCh       chan struct{}
}

func NewAuthService(db *sql.DB, maxUsers, sessionTimeout, maxLoginAttempts, accountLockDuration, sessionCleanerPeriod int) serviceiface.Service {
	if maxUsers <= 0 {
		maxUsers = 100
	}
	if sessionTimeout <= 0 {
		sessionTimeout = 3600
	}
	if maxLoginAttempts <= 0 {
		maxLoginAttempts = 5
	}
	if accountLockDuration <= 0 {
		accountLockDuration = 900
	}
	if sessionCleanerPeriod <= 0 {
		sessionCleanerPeriod = 600
	}
	return &AuthService{
		db:                   db,
		maxUsers:             maxUsers,
		sessionTimeout:       time.Duration(sessionTimeout) * time.Second,
		maxLoginAttempts:     maxLoginAttempts,
		accountLockDuration:  time.Duration(accountLockDuration) * time.Second,
		sessionCleanerPeriod: time.Duration(sessionCleanerPeriod) * time.Second,
		users:                make(map[string]*UserSession),
		userPointers:         make(map[string]*UserSession),
		failedLogins:         make(map[string]int),
		lockedUntil:          make(map[string]time.Time),
		lastSeen:             make(map[string]time.Time),
		stopCh:               make(chan struct{}),
	}
}

func (a *AuthService) Name() string { return "auth" }

func (a *AuthService) Start() error {
	go a.sessionCleaner()
	return nil
}

func (a *AuthService) Stop() error {
	close(a.stopCh)
	return nil
}

func (a *AuthService) Login(username, password string, clientIP string) (*UserSession, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if until, locked := a.lockedUntil[username]; locked {
		if time.Now().Before(until) {
			return nil, errors.New("account temporarily locked, try again later")
		}
		delete(a.lockedUntil, username)
		delete(a.failedLogins, username)
	}

	for _, session := range a.users {
		if session.Email == username && session.IsLoggedIn {
			session.LastLoginTime = time.Now().Format(time.RFC3339)
			session.ClientIP = clientIP
			a.lastSeen[session.SessionID] = time.Now()
			if logger.GlobalLogger != nil {
				logger.GlobalLogger.LogAudit(fmt.Sprintf("User %s re-logged in, returning existing session", username))
			}
			return session, nil
		}
	}

	if len(a.users) >= a.maxUsers {
		return nil, errors.New("maximum concurrent users reached")
	}

	var (
		userID, name, email        string
		roleID, roleName, roleCode sql.NullString
		userStatus, roleStatus     sql.NullString
	)

	query := `
    SELECT
        u.id AS user_id,
        u.employee_name,
        u.email,
        u.status AS user_status,
        r.id AS role_id,
        r.name AS role_name,
        r.rolecode,
        r.status AS role_status
    FROM users u
    LEFT JOIN user_roles ur ON u.id = ur.user_id
    LEFT JOIN roles r ON ur.role_id = r.id
    WHERE u.email = $1 AND u.password = $2
    `

	err := a.db.QueryRow(query, username, password).Scan(
		&userID, &name, &email, &userStatus,
		&roleID, &roleName, &roleCode, &roleStatus,
	)
	if err != nil {
		a.failedLogins[username]++
		if a.failedLogins[username] >= a.maxLoginAttempts {
			a.lockedUntil[username] = time.Now().Add(a.accountLockDuration)
			if logger.GlobalLogger != nil {
				logger.GlobalLogger.LogAudit("Account locked after failed logins: " + username)
			}
		}
		return nil, errors.New("invalid credentials or user not found")
	}
	delete(a.failedLogins, username)

	sessionID := generateSessionID()
	session := &UserSession{
		SessionID:     sessionID,
		UserID:        userID,
		Name:          name,
		Email:         email,
		Role:          roleName.String,
		RoleCode:      roleCode.String,
		LastLoginTime: time.Now().Format(time.RFC3339),
		ClientIP:      clientIP,
		IsLoggedIn:    true,
	}

	a.users[sessionID] = session
	a.userPointers[userID] = session
	a.lastSeen[sessionID] = time.Now()

	if logger.GlobalLogger != nil {
		logger.GlobalLogger.LogAudit("User logged in: " + username)
	}

	return session, nil
}

func (a *AuthService) Logout(sessionID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	session, exists := a.users[sessionID]
	if !exists {
		return errors.New("session not found")
	}
	delete(a.users, sessionID)
	delete(a.userPointers, session.UserID)
	delete(a.lastSeen, sessionID)

	if logger.GlobalLogger != nil {
		logger.GlobalLogger.LogAudit("User logged out: " + session.UserID)
	}

	return nil
}

var globalAuthService *AuthService

// SetGlobalAuthService sets the global AuthService instance
func SetGlobalAuthService(svc *AuthService) {
	globalAuthService = svc
}

// GetActiveSessions returns active sessions from the global AuthService
func GetActiveSessions() []*UserSession {
	if globalAuthService == nil {
		return nil
	}
	return globalAuthService.GetActiveSessions()
}

func (a *AuthService) GetActiveSessions() []*UserSession {
	a.mu.Lock()
	defer a.mu.Unlock()
	sessions := make([]*UserSession, 0, len(a.users))
	for _, s := range a.users {
		sessions = append(sessions, s)
	}
	return sessions
}

// sessionCleaner expires sessions idle beyond the configured timeout.
func (a *AuthService) sessionCleaner() {
	ticker := time.NewTicker(a.sessionCleanerPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			a.mu.Lock()
			cutoff := time.Now().Add(-a.sessionTimeout)
			for sid, seen := range a.lastSeen {
				if seen.Before(cutoff) {
					if s, ok := a.users[sid]; ok {
						delete(a.userPointers, s.UserID)
					}
					delete(a.users, sid)
					delete(a.lastSeen, sid)
				}
			}
			a.mu.Unlock()
		}
	}
}

func generateSessionID() string {
	return fmt.Sprintf("%d", time.Now().UnixNano())
}

/*
 *  Copyright (c) 2021 Neil Alexander
 *
 *  This Source Code Form is subject to the terms of the Mozilla Public
 *  License, v. 2.0. If a copy of the MPL was not distributed with this
 *  file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package mobile provides Android/iOS bindings for the Yggmail message store
package mobile

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/emersion/go-message/textproto"
	gologme "github.com/gologme/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/JB-SelfCompany/yggmailstore/internal/config"
	"github.com/JB-SelfCompany/yggmailstore/internal/directory"
	"github.com/JB-SelfCompany/yggmailstore/internal/events"
	"github.com/JB-SelfCompany/yggmailstore/internal/imapserver"
	"github.com/JB-SelfCompany/yggmailstore/internal/logging"
	"github.com/JB-SelfCompany/yggmailstore/internal/storage/memory"
	"github.com/JB-SelfCompany/yggmailstore/internal/storage/msgrange"
	redisstore "github.com/JB-SelfCompany/yggmailstore/internal/storage/redis"
	"github.com/JB-SelfCompany/yggmailstore/internal/storage/sqldb"
	"github.com/JB-SelfCompany/yggmailstore/internal/storage/types"
	"github.com/JB-SelfCompany/yggmailstore/internal/store"
)

// LogCallback interface for Android logging
type LogCallback interface {
	OnLog(level, tag, message string)
}

// MailCallback interface for receiving mail notifications
type MailCallback interface {
	OnNewMail(mailbox, from, subject string, uid int)
}

// YggmailStoreService is the main service class for Android/iOS
type YggmailStoreService struct {
	config       *config.Config
	sql          *sqldb.Storage
	redis        *redisstore.Storage
	dispatcher   *events.Dispatcher
	store        *store.Store
	directory    *directory.Directory
	imapBackend  *imapserver.Backend
	imapServer   *imapserver.IMAPServer
	imapNotify   *imapserver.IMAPNotify
	logger       *gologme.Logger
	logOutput    io.Writer
	logCallback  LogCallback
	mailCallback MailCallback
	running      bool
	mu           sync.RWMutex
}

// NewYggmailStoreService creates a new instance of the service from the
// YAML configuration file at configPath, which may be empty to use the
// defaults and the environment only.
func NewYggmailStoreService(configPath string) (*YggmailStoreService, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return NewServiceWithConfig(cfg, os.Stdout), nil
}

// NewServiceWithConfig creates the service from an already loaded
// configuration, logging to w as well as to any log callback.
func NewServiceWithConfig(cfg *config.Config, w io.Writer) *YggmailStoreService {
	service := &YggmailStoreService{
		config:    cfg,
		logOutput: w,
	}
	service.logger = logging.New(&logWriter{service: service}, "yggmailstore", cfg.Log.Level)
	return service
}

// SetLogCallback sets the callback for log messages
func (s *YggmailStoreService) SetLogCallback(callback LogCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logCallback = callback
}

// SetMailCallback sets the callback for mail events
func (s *YggmailStoreService) SetMailCallback(callback MailCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mailCallback = callback
}

// Initialize opens the storage, builds the store and makes sure the
// account's INBOX exists. Must be called before Start()
func (s *YggmailStoreService) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.store != nil {
		return fmt.Errorf("service already initialized")
	}

	drivers, table, err := s.openStorage(context.Background())
	if err != nil {
		s.closeStorage()
		return err
	}

	s.dispatcher = events.NewDispatcher(s.logger, s.config.Events.Retries)
	s.dispatcher.Register(events.ListenerFunc(s.onEvent))
	s.store = store.New(drivers, s.dispatcher, s.logger)
	s.directory = directory.New(table, s.logger)
	s.imapBackend = &imapserver.Backend{
		Log:          s.logger,
		Store:        s.store,
		Directory:    s.directory,
		Delimiter:    s.config.IMAP.Delimiter,
		Username:     s.config.IMAP.Username,
		PasswordHash: []byte(s.config.IMAP.PasswordHash),
	}

	if s.config.IMAP.Username != "" {
		if _, err := s.imapBackend.Account(); err != nil {
			return fmt.Errorf("failed to create INBOX: %w", err)
		}
	}
	return nil
}

func (s *YggmailStoreService) openStorage(ctx context.Context) (store.Drivers, directory.Table, error) {
	var (
		drivers store.Drivers
		table   directory.Table
	)
	switch s.config.Storage.Driver {
	case "memory":
		mem := memory.New()
		drivers, table = mem.Drivers(), mem.Mailboxes
		s.logger.Warnf("Using in-memory storage, nothing will be persisted")

	default:
		dialect := sqldb.Dialect(s.config.Storage.Driver)
		dsn := s.config.Storage.DSN
		if dsn == "" {
			dsn = sqldb.SQLiteDSN(dialect, s.config.Storage.Path)
		}
		storage, err := sqldb.Open(dialect, dsn, s.logger)
		if err != nil {
			return store.Drivers{}, nil, fmt.Errorf("failed to open database: %w", err)
		}
		s.sql = storage
		drivers, table = storage.Drivers(), storage.Mailboxes
		s.logger.Infof("Using %s storage", dialect)
	}

	if s.config.Sequences.Backend == "redis" {
		rs, err := redisstore.Open(ctx, s.config.Redis.Addr, s.config.Redis.Password, s.config.Redis.DB)
		if err != nil {
			return store.Drivers{}, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		s.redis = rs
		drivers.UIDs, drivers.ModSeqs, drivers.Counters = rs.UIDs, rs.ModSeqs, rs.Counters
		s.logger.Infof("Using redis sequences at %s", s.config.Redis.Addr)
	}
	return drivers, table, nil
}

// onEvent forwards store changes to the running IMAP server and new
// messages to the mail callback.
func (s *YggmailStoreService) onEvent(ctx context.Context, ev events.Event) error {
	s.mu.RLock()
	callback := s.mailCallback
	notify := s.imapNotify
	s.mu.RUnlock()

	if notify != nil {
		if err := notify.HandleEvent(ctx, ev); err != nil {
			return err
		}
	}
	if callback == nil || ev.Kind != events.Added || ev.Message == nil {
		return nil
	}
	hdr, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(ev.Message.Header)))
	if err != nil {
		s.logger.Warnf("Failed to parse header of %s: %v", ev, err)
	}
	callback.OnNewMail(ev.Mailbox.Path.Name, hdr.Get("From"), hdr.Get("Subject"), int(ev.UID))
	return nil
}

// Start starts the IMAP server
func (s *YggmailStoreService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("service already running")
	}
	if s.store == nil {
		return fmt.Errorf("service not initialized, call Initialize() first")
	}
	if s.imapBackend.Username == "" || len(s.imapBackend.PasswordHash) == 0 {
		return fmt.Errorf("no IMAP account configured, set a username and password first")
	}

	imapServer, notify, err := imapserver.NewIMAPServer(s.imapBackend, s.config.IMAP.Listen, s.config.IMAP.Insecure)
	if err != nil {
		return fmt.Errorf("failed to start IMAP server: %w", err)
	}
	s.imapServer = imapServer
	s.imapNotify = notify

	s.running = true
	s.logger.Infof("Yggmail store service started successfully")
	return nil
}

// Stop stops the IMAP server. The storage stays open until Close().
func (s *YggmailStoreService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return fmt.Errorf("service not running")
	}
	s.running = false

	s.logger.Infof("Closing IMAP server...")
	if err := s.imapServer.Close(); err != nil {
		s.logger.Errorf("Error closing IMAP server: %v", err)
		return err
	}
	s.imapServer = nil
	s.imapNotify = nil
	s.logger.Infof("Yggmail store service stopped successfully")
	return nil
}

// Close closes the service and releases all resources
func (s *YggmailStoreService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("service still running, call Stop() first")
	}
	return s.closeStorage()
}

func (s *YggmailStoreService) closeStorage() error {
	var errs []error
	if s.sql != nil {
		errs = append(errs, s.sql.Close())
		s.sql = nil
	}
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
		s.redis = nil
	}
	s.store = nil
	return errors.Join(errs...)
}

// IsRunning returns whether the service is currently running
func (s *YggmailStoreService) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// GetIMAPAddress returns the address the IMAP server listens on
func (s *YggmailStoreService) GetIMAPAddress() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.imapServer == nil {
		return s.config.IMAP.Listen
	}
	return s.imapServer.Addr().String()
}

// SetAccount sets the IMAP username and password. The password hash only
// lives as long as the service; persist it with the imap.password_hash
// setting.
func (s *YggmailStoreService) SetAccount(username, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(strings.TrimSpace(password)), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.imapBackend == nil {
		return fmt.Errorf("service not initialized")
	}
	s.imapBackend.Username = username
	s.imapBackend.PasswordHash = hash
	if _, err := s.imapBackend.Account(); err != nil {
		return err
	}
	s.logger.Infof("Account %q updated successfully", username)
	return nil
}

// VerifyPassword verifies the provided password
func (s *YggmailStoreService) VerifyPassword(password string) (bool, error) {
	s.mu.RLock()
	backend := s.imapBackend
	s.mu.RUnlock()

	if backend == nil {
		return false, fmt.Errorf("service not initialized")
	}
	err := bcrypt.CompareHashAndPassword(backend.PasswordHash, []byte(strings.TrimSpace(password)))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return err == nil, err
}

func (s *YggmailStoreService) account() (*imapserver.User, error) {
	s.mu.RLock()
	backend := s.imapBackend
	s.mu.RUnlock()

	if backend == nil {
		return nil, fmt.Errorf("service not initialized")
	}
	return backend.Account()
}

func (s *YggmailStoreService) mailbox(name string) (*types.Mailbox, error) {
	user, err := s.account()
	if err != nil {
		return nil, err
	}
	return s.directory.FindByPath(context.Background(), user.Path(name))
}

// GetMailboxList returns list of all mailboxes
func (s *YggmailStoreService) GetMailboxList() ([]string, error) {
	user, err := s.account()
	if err != nil {
		return nil, err
	}
	boxes, err := user.ListMailboxes(false)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(boxes))
	for _, mb := range boxes {
		names = append(names, mb.Name())
	}
	return names, nil
}

// CreateMailbox creates a new mailbox
func (s *YggmailStoreService) CreateMailbox(name string) error {
	user, err := s.account()
	if err != nil {
		return err
	}
	return user.CreateMailbox(name)
}

// DeleteMailbox deletes a mailbox and all of its messages
func (s *YggmailStoreService) DeleteMailbox(name string) error {
	user, err := s.account()
	if err != nil {
		return err
	}
	return user.DeleteMailbox(name)
}

// RenameMailbox renames a mailbox
func (s *YggmailStoreService) RenameMailbox(oldName, newName string) error {
	user, err := s.account()
	if err != nil {
		return err
	}
	return user.RenameMailbox(oldName, newName)
}

// GetMailCount returns the number of mails in a mailbox
func (s *YggmailStoreService) GetMailCount(mailbox string) (int, error) {
	mb, err := s.mailbox(mailbox)
	if err != nil {
		return 0, err
	}
	count, err := s.store.CountMessages(context.Background(), mb)
	return int(count), err
}

// GetUnseenCount returns the number of unseen mails in a mailbox
func (s *YggmailStoreService) GetUnseenCount(mailbox string) (int, error) {
	mb, err := s.mailbox(mailbox)
	if err != nil {
		return 0, err
	}
	count, err := s.store.CountUnseen(context.Background(), mb)
	return int(count), err
}

// MailInfo represents basic mail information
type MailInfo struct {
	UID      int
	From     string
	Subject  string
	Date     string
	Seen     bool
	Flagged  bool
	Answered bool
}

// GetMailList returns list of mails in a mailbox
func (s *YggmailStoreService) GetMailList(mailbox string) ([]*MailInfo, error) {
	mb, err := s.mailbox(mailbox)
	if err != nil {
		return nil, err
	}
	msgs, err := s.store.FindInMailbox(context.Background(), mb, msgrange.All(), types.FetchHeaders, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list mails: %w", err)
	}

	var mails []*MailInfo
	for _, m := range msgs {
		hdr, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(m.Header)))
		if err != nil {
			s.logger.Warnf("Failed to parse mail %d: %v", m.UID, err)
			continue
		}
		mails = append(mails, &MailInfo{
			UID:      int(m.UID),
			From:     hdr.Get("From"),
			Subject:  hdr.Get("Subject"),
			Date:     hdr.Get("Date"),
			Seen:     m.Flags.Has(types.FlagSeen),
			Flagged:  m.Flags.Has(types.FlagFlagged),
			Answered: m.Flags.Has(types.FlagAnswered),
		})
	}
	return mails, nil
}

// GetMailContent returns the full content of a mail
func (s *YggmailStoreService) GetMailContent(mailbox string, uid int) (string, error) {
	mb, err := s.mailbox(mailbox)
	if err != nil {
		return "", err
	}
	m, err := s.store.FindByUID(context.Background(), mb, uint32(uid), types.FetchFull)
	if err != nil {
		return "", fmt.Errorf("failed to get mail: %w", err)
	}
	return string(m.Content()), nil
}

func (s *YggmailStoreService) setFlag(mailbox string, uid int, flag types.Flags, value bool) error {
	mb, err := s.mailbox(mailbox)
	if err != nil {
		return err
	}
	updated, err := s.store.UpdateFlags(context.Background(), mb, msgrange.One(uint32(uid)), flag, value, false)
	if err != nil {
		return err
	}
	if len(updated) == 0 {
		return types.ErrMessageNotFound
	}
	return nil
}

// MarkMailSeen marks a mail as seen/unseen
func (s *YggmailStoreService) MarkMailSeen(mailbox string, uid int, seen bool) error {
	return s.setFlag(mailbox, uid, types.FlagSeen, seen)
}

// MarkMailFlagged marks a mail as flagged/unflagged
func (s *YggmailStoreService) MarkMailFlagged(mailbox string, uid int, flagged bool) error {
	return s.setFlag(mailbox, uid, types.FlagFlagged, flagged)
}

// DeleteMail removes a mail immediately, without waiting for an expunge
func (s *YggmailStoreService) DeleteMail(mailbox string, uid int) error {
	mb, err := s.mailbox(mailbox)
	if err != nil {
		return err
	}
	ctx := context.Background()
	m, err := s.store.FindByUID(ctx, mb, uint32(uid), types.FetchMetadata)
	if err != nil {
		return fmt.Errorf("failed to get mail: %w", err)
	}
	return s.store.Delete(ctx, mb, m)
}

// ExpungeMailbox permanently removes deleted mails from a mailbox
func (s *YggmailStoreService) ExpungeMailbox(mailbox string) (int, error) {
	mb, err := s.mailbox(mailbox)
	if err != nil {
		return 0, err
	}
	removed, err := s.store.ExpungeMarkedForDeletion(context.Background(), mb, msgrange.All())
	return len(removed), err
}

// logWriter is a custom writer that forwards logs to the callback
type logWriter struct {
	service *YggmailStoreService
}

func (w *logWriter) Write(p []byte) (n int, err error) {
	if cb := w.service.logCallback; cb != nil {
		msg := strings.TrimSuffix(string(p), "\n")
		cb.OnLog("INFO", "YggmailStore", msg)
	}
	return w.service.logOutput.Write(p)
}

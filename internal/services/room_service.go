package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/thereayou/wizard-rooms/internal/metrics"
	"github.com/thereayou/wizard-rooms/internal/models"
	"github.com/thereayou/wizard-rooms/internal/store"
)

const (
	maxUserNameLength = 32
	maxMessageLength  = 2000
	maxDrawPoints     = 5000
	generatedCodeLen  = 6
	defaultPageSize   = 50
	codeAlphabet      = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	// SystemUserID - автор событий, пришедших через POST /event
	SystemUserID = "system"
)

var roomCodePattern = regexp.MustCompile(`^[A-Z0-9_-]{1,32}$`)

// Broadcaster доставляет события подключениям. Реализация обязана
// сохранять порядок вызовов: снимок, отправленный через SendTo, приходит
// раньше любого последующего Broadcast в ту же комнату.
type Broadcaster interface {
	Subscribe(connID, roomCode string)
	Unsubscribe(connID, roomCode string)
	Broadcast(roomCode string, event models.Event, exceptConnID string)
	SendTo(connID string, event models.Event)
	BroadcastAll(event models.Event)
}

// TokenIssuer подписывает токены повторного входа
type TokenIssuer interface {
	IssueRoomToken(userID, roomCode string) (string, error)
	VerifyRoomToken(token string) (userID, roomCode string, err error)
}

type JoinRequest struct {
	RoomCode  string
	UserName  string
	CreateNew bool
	Password  string
	Token     string
}

type JoinResult struct {
	Snapshot models.Snapshot
	UserID   string
	Token    string
	Created  bool
}

type DrawInput struct {
	Type   models.DrawType
	Points []models.Point
	Color  string
	DrawID string
}

// IngestRequest - событие от внешнего продюсера
type IngestRequest struct {
	RoomCode string
	Type     string // chat | draw | notice
	UserName string
	Message  string
	Draw     *DrawInput
}

type RoomOptions struct {
	Scheduler   Scheduler
	Tokens      TokenIssuer
	Archiver    Archiver
	Metrics     *metrics.Metrics
	Logger      *logrus.Logger
	CloseGrace  time.Duration
	ChatHistory int
}

// RoomService - единственная точка изменения состояния комнат.
// Все мутации выполняются под одним мьютексом.
type RoomService struct {
	mu sync.Mutex

	store     store.RoomStore
	hub       Broadcaster
	presence  *Presence
	scheduler Scheduler
	tokens    TokenIssuer
	archiver  Archiver
	metrics   *metrics.Metrics
	log       *logrus.Entry

	closeGrace  time.Duration
	chatHistory int
	now         func() time.Time
}

func NewRoomService(st store.RoomStore, hub Broadcaster, presence *Presence, opts RoomOptions) *RoomService {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	s := &RoomService{
		store:       st,
		hub:         hub,
		presence:    presence,
		scheduler:   opts.Scheduler,
		tokens:      opts.Tokens,
		archiver:    opts.Archiver,
		metrics:     opts.Metrics,
		log:         logger.WithField("component", "rooms"),
		closeGrace:  opts.CloseGrace,
		chatHistory: opts.ChatHistory,
		now:         time.Now,
	}
	if s.scheduler == nil {
		s.scheduler = NewTimerScheduler(s.ExpireRoom, logger)
	}
	return s
}

// Scheduler возвращает планировщик закрытия комнат
func (s *RoomService) Scheduler() Scheduler {
	return s.scheduler
}

// CreateOrJoin создает комнату или подключает к существующей
func (s *RoomService) CreateOrJoin(ctx context.Context, connID string, req JoinRequest) (*JoinResult, error) {
	name := strings.TrimSpace(req.UserName)
	if name == "" || utf8.RuneCountInString(name) > maxUserNameLength {
		return nil, ErrInvalidUserName
	}

	code := models.NormalizeCode(req.RoomCode)
	if code != "" && !roomCodePattern.MatchString(code) {
		return nil, ErrInvalidRoomCode
	}
	if code == "" && !req.CreateNew {
		return nil, ErrInvalidRoomCode
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if code == "" {
		generated, err := s.generateCode(ctx)
		if err != nil {
			return nil, err
		}
		code = generated
	}

	// соединение уже сидит в этой комнате под другим именем
	if prev, ok := s.presence.UserFor(connID, code); ok && !s.sameUser(ctx, code, prev, name) {
		if err := s.leaveConnectionLocked(ctx, connID, code); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{"room": code, "user_id": prev}).Warn("failed to release previous binding")
		}
	}

	created := false
	room, err := s.store.Get(ctx, code)
	switch {
	case errors.Is(err, store.ErrRoomNotFound):
		if !req.CreateNew {
			return nil, ErrRoomNotFound
		}
		room, err = s.newRoom(code, req.Password)
		if err != nil {
			return nil, err
		}
		created = true
	case err != nil:
		return nil, fmt.Errorf("load room %s: %w", code, err)
	default:
		if err := CheckPassword(room.PasswordHash, req.Password); err != nil {
			return nil, err
		}
	}

	p := s.resolveParticipant(room, code, name, req.Token)
	wasActive := p.Active
	p.Active = true
	p.UserName = name
	userID := p.UserID

	hostChanged := false
	if created {
		room.SetHost(userID)
	} else if host := room.Participant(room.HostID); host == nil || !host.Active {
		hostChanged = room.HostID != userID
		room.SetHost(userID)
	}

	if room.State == models.RoomClosing {
		room.State = models.RoomActive
		room.ClosingSince = nil
		s.scheduler.Cancel(code)
		s.log.WithField("room", code).Info("room closure cancelled")
	}

	if err := s.store.Put(ctx, room); err != nil {
		return nil, fmt.Errorf("save room %s: %w", code, err)
	}
	if err := s.store.SetUserRoom(ctx, userID, code); err != nil {
		s.log.WithError(err).WithField("user_id", userID).Warn("failed to index user room")
	}

	s.presence.RegisterConnection(connID, code, userID)
	s.hub.Subscribe(connID, code)

	var token string
	if s.tokens != nil {
		token, err = s.tokens.IssueRoomToken(userID, code)
		if err != nil {
			s.log.WithError(err).WithField("user_id", userID).Warn("failed to issue rejoin token")
		}
	}

	snap := s.snapshot(room)
	s.hub.SendTo(connID, models.NewEvent(models.EventRoomJoined, code, models.JoinedPayload{
		Snapshot: snap,
		UserID:   userID,
		Token:    token,
	}))

	if !created && !wasActive {
		s.broadcast(code, models.EventParticipantJoined, models.ParticipantPayload{
			UserID:   userID,
			UserName: name,
		}, connID)
	}
	if hostChanged {
		s.broadcast(code, models.EventHostChanged, models.HostChangedPayload{
			HostID:   userID,
			HostName: name,
		}, "")
	}

	if created {
		s.metrics.RoomOpened()
	}
	s.metrics.Joined()

	s.log.WithFields(logrus.Fields{
		"room":    code,
		"user_id": userID,
		"conn_id": connID,
		"created": created,
	}).Info("participant joined")

	return &JoinResult{Snapshot: snap, UserID: userID, Token: token, Created: created}, nil
}

// Leave помечает пользователя неактивным и отвязывает все его соединения в комнате
func (s *RoomService) Leave(ctx context.Context, roomCode, userID string) error {
	code := models.NormalizeCode(roomCode)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, connID := range s.presence.UnbindUser(code, userID) {
		s.hub.Unsubscribe(connID, code)
	}
	return s.leaveLocked(ctx, code, userID)
}

// LeaveConnection отвязывает одно соединение. Пользователь покидает комнату,
// только если это было его последнее соединение в ней.
func (s *RoomService) LeaveConnection(ctx context.Context, connID, roomCode string) error {
	code := models.NormalizeCode(roomCode)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.presence.UserFor(connID, code); !ok {
		return ErrNotInRoom
	}
	return s.leaveConnectionLocked(ctx, connID, code)
}

// DisconnectTransport обрабатывает обрыв соединения
func (s *RoomService) DisconnectTransport(ctx context.Context, connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range s.presence.UnregisterConnection(connID) {
		s.hub.Unsubscribe(connID, b.RoomCode)
		if s.presence.ConnectionCount(b.RoomCode, b.UserID) > 0 {
			continue
		}
		if err := s.leaveLocked(ctx, b.RoomCode, b.UserID); err != nil && !errors.Is(err, ErrRoomNotFound) {
			s.log.WithError(err).WithFields(logrus.Fields{
				"room":    b.RoomCode,
				"user_id": b.UserID,
				"conn_id": connID,
			}).Error("leave on disconnect failed")
		}
	}
}

func (s *RoomService) leaveConnectionLocked(ctx context.Context, connID, code string) error {
	userID, ok := s.presence.Unbind(connID, code)
	if !ok {
		return nil
	}
	s.hub.Unsubscribe(connID, code)
	if s.presence.ConnectionCount(code, userID) > 0 {
		return nil
	}
	return s.leaveLocked(ctx, code, userID)
}

func (s *RoomService) leaveLocked(ctx context.Context, code, userID string) error {
	room, err := s.store.Get(ctx, code)
	if err != nil {
		return err
	}
	p := room.Participant(userID)
	if p == nil {
		return ErrNotInRoom
	}
	if !p.Active {
		return nil
	}
	p.Active = false
	name := p.UserName

	var newHost *models.Participant
	if room.HostID == userID {
		if next := room.NextHost(userID); next != nil {
			room.SetHost(next.UserID)
			newHost = next
		}
	}

	closing := room.ActiveCount() == 0
	if closing {
		now := s.now()
		room.State = models.RoomClosing
		room.ClosingGeneration++
		room.ClosingSince = &now
	}

	if err := s.store.Put(ctx, room); err != nil {
		return fmt.Errorf("save room %s: %w", code, err)
	}

	s.broadcast(code, models.EventParticipantLeft, models.ParticipantPayload{UserID: userID, UserName: name}, "")
	if newHost != nil {
		s.broadcast(code, models.EventHostChanged, models.HostChangedPayload{
			HostID:   newHost.UserID,
			HostName: newHost.UserName,
		}, "")
	}

	s.log.WithFields(logrus.Fields{"room": code, "user_id": userID}).Info("participant left")

	if closing {
		return s.beginClosing(ctx, room)
	}
	return nil
}

func (s *RoomService) beginClosing(ctx context.Context, room *models.Room) error {
	if s.closeGrace <= 0 {
		return s.expireLocked(ctx, room)
	}

	s.log.WithFields(logrus.Fields{
		"room":       room.Code,
		"generation": room.ClosingGeneration,
		"grace":      s.closeGrace,
	}).Info("room closing")

	if err := s.scheduler.Schedule(ctx, room.Code, room.ClosingGeneration, s.closeGrace); err != nil {
		return fmt.Errorf("schedule closure of %s: %w", room.Code, err)
	}
	return nil
}

// ExpireRoom удаляет комнату по истечении grace-периода. Устаревшая
// генерация или вернувшийся участник делают вызов пустым.
func (s *RoomService) ExpireRoom(ctx context.Context, roomCode string, generation int64) error {
	code := models.NormalizeCode(roomCode)

	s.mu.Lock()
	defer s.mu.Unlock()

	room, err := s.store.Get(ctx, code)
	if errors.Is(err, store.ErrRoomNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if room.State != models.RoomClosing || room.ClosingGeneration != generation || room.ActiveCount() > 0 {
		s.log.WithFields(logrus.Fields{
			"room":       code,
			"generation": generation,
			"current":    room.ClosingGeneration,
		}).Debug("stale room expiry skipped")
		return nil
	}
	return s.expireLocked(ctx, room)
}

func (s *RoomService) expireLocked(ctx context.Context, room *models.Room) error {
	if err := s.store.Delete(ctx, room.Code); err != nil {
		return fmt.Errorf("delete room %s: %w", room.Code, err)
	}
	for _, p := range room.Participants {
		if err := s.store.DeleteUser(ctx, p.UserID); err != nil {
			s.log.WithError(err).WithField("user_id", p.UserID).Warn("failed to clear user index")
		}
	}

	s.broadcast(room.Code, models.EventRoomClosed, nil, "")
	s.metrics.RoomClosed()
	s.log.WithField("room", room.Code).Info("room deleted")

	if s.archiver != nil {
		closedAt := s.now()
		go func(r *models.Room) {
			if err := s.archiver.ArchiveRoom(context.Background(), r, closedAt); err != nil {
				s.log.WithError(err).WithField("room", r.Code).Error("failed to archive room")
			}
		}(room)
	}
	return nil
}

// SendChat добавляет сообщение в лог и рассылает его всей комнате, включая отправителя
func (s *RoomService) SendChat(ctx context.Context, connID, roomCode, message string) (*models.ChatMessage, error) {
	code := models.NormalizeCode(roomCode)
	text := strings.TrimSpace(message)
	if text == "" || utf8.RuneCountInString(text) > maxMessageLength {
		return nil, ErrInvalidPayload
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	userID, ok := s.presence.UserFor(connID, code)
	if !ok {
		return nil, ErrNotInRoom
	}
	room, err := s.store.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	p := room.Participant(userID)
	if p == nil {
		return nil, ErrNotInRoom
	}

	msg := models.ChatMessage{
		ID:        uuid.New().String(),
		UserID:    userID,
		UserName:  p.UserName,
		Message:   text,
		Timestamp: s.now(),
	}
	if err := s.appendChat(ctx, room, msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Draw добавляет событие рисования. Очистку холста может сделать только хост.
func (s *RoomService) Draw(ctx context.Context, connID, roomCode string, in DrawInput) (*models.DrawEvent, error) {
	code := models.NormalizeCode(roomCode)
	if err := validateDraw(in); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	userID, ok := s.presence.UserFor(connID, code)
	if !ok {
		return nil, ErrNotInRoom
	}
	room, err := s.store.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	p := room.Participant(userID)
	if p == nil {
		return nil, ErrNotInRoom
	}
	if in.Type == models.DrawClear && room.HostID != userID {
		return nil, ErrNotHost
	}

	ev := models.DrawEvent{
		Type:      in.Type,
		UserID:    userID,
		UserName:  p.UserName,
		Points:    in.Points,
		Color:     in.Color,
		DrawID:    in.DrawID,
		Timestamp: s.now(),
	}
	if err := s.appendDraw(ctx, room, ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// Ingest принимает событие от внешнего продюсера и рассылает его в комнату
func (s *RoomService) Ingest(ctx context.Context, req IngestRequest) error {
	code := models.NormalizeCode(req.RoomCode)
	if code == "" {
		return ErrInvalidRoomCode
	}
	author := strings.TrimSpace(req.UserName)
	if author == "" {
		author = SystemUserID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	room, err := s.store.Get(ctx, code)
	if err != nil {
		return err
	}

	switch req.Type {
	case "chat":
		text := strings.TrimSpace(req.Message)
		if text == "" || utf8.RuneCountInString(text) > maxMessageLength {
			return ErrInvalidPayload
		}
		return s.appendChat(ctx, room, models.ChatMessage{
			ID:        uuid.New().String(),
			UserID:    SystemUserID,
			UserName:  author,
			Message:   text,
			Timestamp: s.now(),
		})
	case "draw":
		if req.Draw == nil {
			return ErrInvalidPayload
		}
		if err := validateDraw(*req.Draw); err != nil {
			return err
		}
		return s.appendDraw(ctx, room, models.DrawEvent{
			Type:      req.Draw.Type,
			UserID:    SystemUserID,
			UserName:  author,
			Points:    req.Draw.Points,
			Color:     req.Draw.Color,
			DrawID:    req.Draw.DrawID,
			Timestamp: s.now(),
		})
	case "notice":
		if strings.TrimSpace(req.Message) == "" {
			return ErrInvalidPayload
		}
		s.broadcast(code, models.EventNotice, models.NoticePayload{Message: req.Message}, "")
		return nil
	default:
		return ErrInvalidPayload
	}
}

// Snapshot возвращает состояние комнаты для нового участника
func (s *RoomService) Snapshot(ctx context.Context, roomCode string) (*models.Snapshot, error) {
	room, err := s.store.Get(ctx, models.NormalizeCode(roomCode))
	if err != nil {
		return nil, err
	}
	snap := s.snapshot(room)
	return &snap, nil
}

// Authorize проверяет пароль комнаты перед выдачей ее содержимого наружу
func (s *RoomService) Authorize(ctx context.Context, roomCode, password string) error {
	room, err := s.store.Get(ctx, models.NormalizeCode(roomCode))
	if err != nil {
		return err
	}
	return CheckPassword(room.PasswordHash, password)
}

// CheckPassword сверяет пароль с bcrypt-хэшем. Пустой хэш - комната без пароля.
func CheckPassword(hash, password string) error {
	if hash == "" {
		return nil
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return ErrWrongPassword
	}
	return nil
}

// Exists сообщает, есть ли комната с таким кодом
func (s *RoomService) Exists(ctx context.Context, roomCode string) (bool, error) {
	_, err := s.store.Get(ctx, models.NormalizeCode(roomCode))
	if errors.Is(err, store.ErrRoomNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ChatPage возвращает до limit сообщений, предшествующих beforeID
// (или последние, если beforeID пуст), и признак наличия более ранних.
func (s *RoomService) ChatPage(ctx context.Context, roomCode string, limit int, beforeID string) ([]models.ChatMessage, bool, error) {
	room, err := s.store.Get(ctx, models.NormalizeCode(roomCode))
	if err != nil {
		return nil, false, err
	}

	if limit <= 0 {
		limit = defaultPageSize
	}

	end := len(room.ChatMessages)
	if beforeID != "" {
		end = -1
		for i, m := range room.ChatMessages {
			if m.ID == beforeID {
				end = i
				break
			}
		}
		if end < 0 {
			return nil, false, ErrInvalidPayload
		}
	}

	start := end - limit
	if start < 0 {
		start = 0
	}
	page := make([]models.ChatMessage, end-start)
	copy(page, room.ChatMessages[start:end])
	return page, start > 0, nil
}

func (s *RoomService) appendChat(ctx context.Context, room *models.Room, msg models.ChatMessage) error {
	room.ChatMessages = append(room.ChatMessages, msg)
	if err := s.store.Put(ctx, room); err != nil {
		return fmt.Errorf("save room %s: %w", room.Code, err)
	}
	s.broadcast(room.Code, models.EventChatMessage, msg, "")
	return nil
}

func (s *RoomService) appendDraw(ctx context.Context, room *models.Room, ev models.DrawEvent) error {
	room.DrawEvents = append(room.DrawEvents, ev)
	if err := s.store.Put(ctx, room); err != nil {
		return fmt.Errorf("save room %s: %w", room.Code, err)
	}
	s.broadcast(room.Code, models.EventDraw, ev, "")
	return nil
}

func (s *RoomService) broadcast(code string, t models.EventType, data interface{}, except string) {
	s.hub.Broadcast(code, models.NewEvent(t, code, data), except)
	s.metrics.Broadcast(string(t))
}

func (s *RoomService) snapshot(room *models.Room) models.Snapshot {
	return models.Snapshot{
		RoomCode:     room.Code,
		HostID:       room.HostID,
		Participants: append([]models.Participant(nil), room.Participants...),
		ChatMessages: room.RecentChat(s.chatHistory),
		DrawEvents:   room.ReplayDrawEvents(),
	}
}

func (s *RoomService) newRoom(code, password string) (*models.Room, error) {
	room := &models.Room{
		Code:         code,
		CreatedAt:    s.now(),
		State:        models.RoomActive,
		Participants: []models.Participant{},
		ChatMessages: []models.ChatMessage{},
		DrawEvents:   []models.DrawEvent{},
	}
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash room password: %w", err)
		}
		room.PasswordHash = string(hash)
	}
	return room, nil
}

func (s *RoomService) resolveParticipant(room *models.Room, code, name, token string) *models.Participant {
	if token != "" && s.tokens != nil {
		userID, tokenRoom, err := s.tokens.VerifyRoomToken(token)
		if err == nil && tokenRoom == code {
			if p := room.Participant(userID); p != nil {
				return p
			}
		}
	}
	if p := room.ParticipantByName(name); p != nil {
		return p
	}

	room.Participants = append(room.Participants, models.Participant{
		UserID:   uuid.New().String(),
		UserName: name,
		JoinedAt: s.now(),
	})
	return &room.Participants[len(room.Participants)-1]
}

func (s *RoomService) sameUser(ctx context.Context, code, userID, name string) bool {
	room, err := s.store.Get(ctx, code)
	if err != nil {
		return false
	}
	p := room.Participant(userID)
	return p != nil && strings.EqualFold(p.UserName, name)
}

func (s *RoomService) generateCode(ctx context.Context) (string, error) {
	buf := make([]byte, generatedCodeLen)
	for attempt := 0; attempt < 10; attempt++ {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generate room code: %w", err)
		}
		for i := range buf {
			buf[i] = codeAlphabet[int(buf[i])%len(codeAlphabet)]
		}
		code := string(buf)
		if _, err := s.store.Get(ctx, code); errors.Is(err, store.ErrRoomNotFound) {
			return code, nil
		}
	}
	return "", errors.New("could not allocate a free room code")
}

func validateDraw(in DrawInput) error {
	if !in.Type.Valid() {
		return ErrInvalidPayload
	}
	if in.Type != models.DrawClear && len(in.Points) == 0 {
		return ErrInvalidPayload
	}
	if len(in.Points) > maxDrawPoints {
		return ErrInvalidPayload
	}
	return nil
}

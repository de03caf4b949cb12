package services

import "sync"

// Binding связывает транспортное соединение с пользователем в комнате
type Binding struct {
	ConnID   string
	RoomCode string
	UserID   string
}

// Presence - реестр соединений. Считает уникальных пользователей,
// а не соединения: две вкладки одного пользователя дают единицу.
type Presence struct {
	mu    sync.Mutex
	conns map[string]map[string]string   // connID -> roomCode -> userID
	users map[string]map[string]struct{} // userID -> connIDs

	// OnChange вызывается при изменении числа активных пользователей
	OnChange func(count int)
}

func NewPresence() *Presence {
	return &Presence{
		conns: make(map[string]map[string]string),
		users: make(map[string]map[string]struct{}),
	}
}

// RegisterConnection привязывает соединение к пользователю в комнате.
// Возвращает true, если изменилось число активных пользователей.
func (p *Presence) RegisterConnection(connID, roomCode, userID string) bool {
	p.mu.Lock()
	before := len(p.users)

	rooms, ok := p.conns[connID]
	if !ok {
		rooms = make(map[string]string)
		p.conns[connID] = rooms
	}
	old, rebind := rooms[roomCode]
	rooms[roomCode] = userID
	if rebind && old != userID {
		p.dropUserConnUnsafe(old, connID)
	}

	if _, ok := p.users[userID]; !ok {
		p.users[userID] = make(map[string]struct{})
	}
	p.users[userID][connID] = struct{}{}

	after := len(p.users)
	p.mu.Unlock()

	return p.notify(before, after)
}

// Unbind отвязывает соединение от одной комнаты
func (p *Presence) Unbind(connID, roomCode string) (string, bool) {
	p.mu.Lock()
	before := len(p.users)

	rooms, ok := p.conns[connID]
	if !ok {
		p.mu.Unlock()
		return "", false
	}
	userID, ok := rooms[roomCode]
	if !ok {
		p.mu.Unlock()
		return "", false
	}
	delete(rooms, roomCode)
	if len(rooms) == 0 {
		delete(p.conns, connID)
	}
	p.dropUserConnUnsafe(userID, connID)

	after := len(p.users)
	p.mu.Unlock()

	p.notify(before, after)
	return userID, true
}

// UnbindUser отвязывает все соединения пользователя в комнате
func (p *Presence) UnbindUser(roomCode, userID string) []string {
	p.mu.Lock()
	var connIDs []string
	for connID := range p.users[userID] {
		if p.conns[connID][roomCode] == userID {
			connIDs = append(connIDs, connID)
		}
	}
	p.mu.Unlock()

	for _, connID := range connIDs {
		p.Unbind(connID, roomCode)
	}
	return connIDs
}

// UnregisterConnection удаляет соединение целиком и возвращает его привязки
func (p *Presence) UnregisterConnection(connID string) []Binding {
	p.mu.Lock()
	before := len(p.users)

	rooms := p.conns[connID]
	delete(p.conns, connID)

	bindings := make([]Binding, 0, len(rooms))
	for roomCode, userID := range rooms {
		bindings = append(bindings, Binding{ConnID: connID, RoomCode: roomCode, UserID: userID})
		p.dropUserConnUnsafe(userID, connID)
	}

	after := len(p.users)
	p.mu.Unlock()

	p.notify(before, after)
	return bindings
}

func (p *Presence) UserFor(connID, roomCode string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	userID, ok := p.conns[connID][roomCode]
	return userID, ok
}

// ConnectionCount возвращает число живых соединений пользователя в комнате
func (p *Presence) ConnectionCount(roomCode, userID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for connID := range p.users[userID] {
		if p.conns[connID][roomCode] == userID {
			n++
		}
	}
	return n
}

func (p *Presence) ActiveUserCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.users)
}

func (p *Presence) dropUserConnUnsafe(userID, connID string) {
	conns, ok := p.users[userID]
	if !ok {
		return
	}
	// соединение может быть привязано к этому же пользователю и в другой комнате
	for _, uid := range p.conns[connID] {
		if uid == userID {
			return
		}
	}
	delete(conns, connID)
	if len(conns) == 0 {
		delete(p.users, userID)
	}
}

func (p *Presence) notify(before, after int) bool {
	if before == after {
		return false
	}
	if p.OnChange != nil {
		p.OnChange(after)
	}
	return true
}

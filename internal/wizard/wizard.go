// Package wizard реализует пошаговый ввод данных в чате, не зависящий от транспорта.
package wizard

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// DefaultIdleTimeout: время бездействия, после которого сессия сбрасывается.
const DefaultIdleTimeout = 10 * time.Minute

// SkipInput пропускает необязательный шаг.
const SkipInput = "-"

var (
	// ErrNoSession возвращается, если у чата нет активного мастера или он истёк.
	ErrNoSession = errors.New("no active wizard")
	// ErrInvalidStep возвращается, если ввод не прошёл проверку шага.
	ErrInvalidStep = errors.New("invalid input")
)

// Validator проверяет ввод и возвращает нормализованное значение.
type Validator func(input string) (string, error)

// Step: один вопрос мастера.
type Step struct {
	Key      string
	Prompt   string
	Optional bool
	Validate Validator
}

// Flow: последовательность шагов.
type Flow struct {
	Name  string
	Steps []Step
}

// Values хранит собранные ответы по ключам шагов.
type Values map[string]string

// Get возвращает значение шага; пропущенные шаги дают пустую строку.
func (v Values) Get(key string) string {
	return v[key]
}

// Reply описывает результат шага.
type Reply struct {
	// Prompt: следующий вопрос; пуст, когда мастер завершён.
	Prompt string
	Done   bool
	Flow   string
	Values Values
}

type session struct {
	flow      Flow
	step      int
	values    Values
	updatedAt time.Time
}

// Manager хранит сессии мастеров по идентификаторам чатов.
type Manager struct {
	mu       sync.Mutex
	sessions map[int64]*session
	timeout  time.Duration
	now      func() time.Time
}

// NewManager создаёт менеджер сессий. Неположительный timeout заменяется DefaultIdleTimeout.
func NewManager(timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = DefaultIdleTimeout
	}
	return &Manager{
		sessions: make(map[int64]*session),
		timeout:  timeout,
		now:      time.Now,
	}
}

// SetClock подменяет источник времени (для тестов).
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// Start начинает мастер для чата, заменяя незавершённый, и возвращает первый вопрос.
func (m *Manager) Start(chatID int64, flow Flow) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[chatID] = &session{
		flow:      flow,
		values:    make(Values, len(flow.Steps)),
		updatedAt: m.now(),
	}
	return promptFor(flow.Steps[0])
}

// Advance принимает ответ на текущий шаг.
// При ошибке проверки сессия остаётся на том же шаге, а Reply содержит повтор вопроса.
func (m *Manager) Advance(chatID int64, input string) (Reply, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.lookup(chatID)
	if err != nil {
		return Reply{}, err
	}
	s.updatedAt = m.now()

	step := s.flow.Steps[s.step]
	input = strings.TrimSpace(input)

	var value string
	switch {
	case step.Optional && (input == SkipInput || input == ""):
	case input == "":
		return Reply{Prompt: promptFor(step), Flow: s.flow.Name}, fmt.Errorf("%w: %s is required", ErrInvalidStep, step.Key)
	case step.Validate != nil:
		value, err = step.Validate(input)
		if err != nil {
			return Reply{Prompt: promptFor(step), Flow: s.flow.Name}, fmt.Errorf("%w: %v", ErrInvalidStep, err)
		}
	default:
		value = input
	}
	s.values[step.Key] = value
	s.step++

	if s.step == len(s.flow.Steps) {
		delete(m.sessions, chatID)
		return Reply{Done: true, Flow: s.flow.Name, Values: s.values}, nil
	}
	return Reply{Prompt: promptFor(s.flow.Steps[s.step]), Flow: s.flow.Name}, nil
}

// Cancel прерывает мастер. Возвращает false, если активного мастера не было.
func (m *Manager) Cancel(chatID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, err := m.lookup(chatID)
	delete(m.sessions, chatID)
	return err == nil
}

// Active возвращает название активного мастера чата.
func (m *Manager) Active(chatID int64) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.lookup(chatID)
	if err != nil {
		return "", false
	}
	return s.flow.Name, true
}

// Sweep удаляет истёкшие сессии и возвращает их количество.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, s := range m.sessions {
		if m.expired(s) {
			delete(m.sessions, id)
			n++
		}
	}
	return n
}

// lookup вызывается под m.mu.
func (m *Manager) lookup(chatID int64) (*session, error) {
	s, ok := m.sessions[chatID]
	if !ok {
		return nil, ErrNoSession
	}
	if m.expired(s) {
		delete(m.sessions, chatID)
		return nil, ErrNoSession
	}
	return s, nil
}

func (m *Manager) expired(s *session) bool {
	return m.now().Sub(s.updatedAt) > m.timeout
}

func promptFor(s Step) string {
	if s.Optional {
		return s.Prompt + " (send " + SkipInput + " to skip)"
	}
	return s.Prompt
}

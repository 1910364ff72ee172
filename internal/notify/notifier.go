package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Notifier — доставка уведомлений best-effort: ошибки не возвращаются
// и не влияют на торговлю.
type Notifier interface {
	Send(ctx context.Context, msg string)
	Sendf(ctx context.Context, format string, args ...any)
}

// StatusFunc отвечает на команды бота (/positions, /status).
type StatusFunc func(ctx context.Context) string

const queueSize = 64

// sender — часть BotAPI, которой нужна отправка.
type sender interface {
	Send(c tgbot.Chattable) (tgbot.Message, error)
}

// Telegram — пассивный нотифайер + команды /positions и /status.
// Сообщения уходят через очередь: Send не ждёт сети.
type Telegram struct {
	bot    *tgbot.BotAPI
	out    sender
	chatID int64
	log    *zap.Logger

	queue    chan string
	done     chan struct{}
	stopOnce sync.Once

	mu       sync.RWMutex
	commands map[string]StatusFunc
}

func NewTelegram(token string, chatID int64, log *zap.Logger) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	t := newTelegram(b, chatID, log)
	t.bot = b
	return t, nil
}

func newTelegram(out sender, chatID int64, log *zap.Logger) *Telegram {
	t := &Telegram{
		out:      out,
		chatID:   chatID,
		log:      log.Named("telegram"),
		queue:    make(chan string, queueSize),
		done:     make(chan struct{}),
		commands: make(map[string]StatusFunc),
	}
	go t.deliver()
	return t
}

// Handle регистрирует обработчик команды без слэша.
func (t *Telegram) Handle(command string, fn StatusFunc) {
	t.mu.Lock()
	t.commands[strings.TrimPrefix(command, "/")] = fn
	t.mu.Unlock()
}

// Send ставит сообщение в очередь; при переполнении сообщение теряется.
func (t *Telegram) Send(_ context.Context, msg string) {
	if t == nil || t.out == nil || t.chatID == 0 {
		return
	}
	select {
	case t.queue <- msg:
	default:
		t.log.Warn("notification queue full, message dropped", zap.String("msg", msg))
	}
}

func (t *Telegram) deliver() {
	for {
		select {
		case <-t.done:
			return
		case msg := <-t.queue:
			if _, err := t.out.Send(tgbot.NewMessage(t.chatID, msg)); err != nil {
				t.log.Warn("send failed", zap.Error(err))
			}
		}
	}
}

func (t *Telegram) Sendf(ctx context.Context, format string, args ...any) {
	t.Send(ctx, fmt.Sprintf(format, args...))
}

// Start: long-polling только для команд из нашего чата.
func (t *Telegram) Start(ctx context.Context) error {
	if t == nil || t.bot == nil {
		return nil
	}

	u := tgbot.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message"}

	updates := t.bot.GetUpdatesChan(u)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case upd, ok := <-updates:
				if !ok {
					return
				}
				msg := upd.Message
				if msg == nil || msg.Chat == nil || msg.Chat.ID != t.chatID || !msg.IsCommand() {
					continue
				}
				t.mu.RLock()
				fn, found := t.commands[msg.Command()]
				t.mu.RUnlock()
				if !found {
					t.Send(ctx, "🤷 Неизвестная команда")
					continue
				}
				go func() { t.Send(ctx, fn(ctx)) }()
			}
		}
	}()
	return nil
}

func (t *Telegram) Stop() {
	if t == nil {
		return
	}
	if t.done != nil {
		t.stopOnce.Do(func() { close(t.done) })
	}
	if t.bot != nil {
		t.bot.StopReceivingUpdates()
	}
}

// Log — заглушка без Telegram: всё пишет в zap.
type Log struct {
	log *zap.Logger
}

func NewLog(log *zap.Logger) *Log { return &Log{log: log.Named("notify")} }

func (l *Log) Send(_ context.Context, msg string) { l.log.Info(msg) }
func (l *Log) Sendf(ctx context.Context, format string, args ...any) {
	l.Send(ctx, fmt.Sprintf(format, args...))
}

// Recorder копит сообщения; нужен тестам.
type Recorder struct {
	mu   sync.Mutex
	msgs []string
}

func (r *Recorder) Send(_ context.Context, msg string) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
}

func (r *Recorder) Sendf(ctx context.Context, format string, args ...any) {
	r.Send(ctx, fmt.Sprintf(format, args...))
}

func (r *Recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.msgs))
	copy(out, r.msgs)
	return out
}

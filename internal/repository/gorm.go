package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/iwrumi/corebotstore/internal/model"
	"github.com/iwrumi/corebotstore/internal/money"
)

// Поддерживаемые диалекты GORM.
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

// GormRepository реализует хранилище поверх GORM (PostgreSQL или SQLite).
type GormRepository struct {
	db *gorm.DB
}

// GormOption настраивает открытие хранилища GORM.
type GormOption func(*gormOptions)

type gormOptions struct {
	logger *zap.Logger
}

// WithLogger направляет журнал GORM (медленные запросы, ошибки) в zap.
func WithLogger(l *zap.Logger) GormOption {
	return func(o *gormOptions) {
		o.logger = l
	}
}

// OpenGorm открывает соединение по DSN, определяя диалект, и мигрирует схему.
func OpenGorm(dsn string, opts ...GormOption) (*GormRepository, error) {
	o := gormOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, fmt.Errorf("gorm: empty dsn")
	}

	var (
		conn *gorm.DB
		err  error
	)
	switch DetectDialect(trimmed) {
	case DialectPostgres:
		conn, err = openPostgres(trimmed, gormConfig(o.logger))
	default:
		conn, err = openSQLite(trimmed, gormConfig(o.logger))
	}
	if err != nil {
		return nil, err
	}

	r, err := NewGormRepository(conn)
	if err != nil {
		if sqlDB, errDB := conn.DB(); errDB == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}
	return r, nil
}

// NewGormRepository создаёт репозиторий над открытым соединением и мигрирует схему.
func NewGormRepository(conn *gorm.DB) (*GormRepository, error) {
	err := conn.AutoMigrate(
		&userRow{}, &ledgerRow{}, &depositRow{}, &categoryRow{}, &productRow{},
		&variantRow{}, &voucherRow{}, &orderRow{}, &broadcastRow{}, &ticketRow{},
	)
	if err != nil {
		return nil, fmt.Errorf("gorm: auto migrate: %w", err)
	}
	return &GormRepository{db: conn}, nil
}

// DetectDialect определяет диалект по DSN. Всё, что не похоже на PostgreSQL, считается файлом SQLite.
func DetectDialect(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	switch {
	case strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://"):
		return DialectPostgres
	case strings.Contains(lower, "host=") || strings.Contains(lower, "dbname=") || strings.Contains(lower, "sslmode="):
		return DialectPostgres
	default:
		return DialectSQLite
	}
}

// gormConfig пишет журнал GORM через zap. Отсутствие записи не считается ошибкой:
// репозиторий сам превращает его в ErrNotFound.
func gormConfig(l *zap.Logger) *gorm.Config {
	gl := logger.New(zap.NewStdLog(l.Named("gorm")), logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
	return &gorm.Config{
		Logger:         gl,
		TranslateError: true,
	}
}

func openPostgres(dsn string, cfg *gorm.Config) (*gorm.DB, error) {
	conn, err := gorm.Open(postgres.Open(dsn), cfg)
	if err != nil {
		return nil, fmt.Errorf("gorm: open postgres: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("gorm: postgres sql db: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(25)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := ping(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return conn, nil
}

// openSQLite ограничивает пул одним соединением: SQLite не поддерживает блокировку строк,
// поэтому транзакции выполняются строго по одной.
func openSQLite(dsn string, cfg *gorm.Config) (*gorm.DB, error) {
	if lower := strings.ToLower(dsn); strings.HasPrefix(lower, "sqlite://") || strings.HasPrefix(lower, "sqlite3://") {
		dsn = "file:" + strings.SplitN(dsn, "://", 2)[1]
	}

	conn, err := gorm.Open(sqlite.Open(dsn), cfg)
	if err != nil {
		return nil, fmt.Errorf("gorm: open sqlite: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("gorm: sqlite sql db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	for _, pragma := range []string{"PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("gorm: sqlite pragma %s: %w", pragma, err)
		}
	}

	if err := ping(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return conn, nil
}

func ping(sqlDB *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("gorm: ping: %w", err)
	}
	return nil
}

// Close закрывает соединение с БД.
func (r *GormRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// lockFirst читает первую подходящую строку с блокировкой FOR UPDATE (в SQLite блокировка не требуется).
func lockFirst(tx *gorm.DB, dest any, op, query string, args ...any) error {
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where(query, args...).First(dest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return storageErr(op, err)
	}
	return nil
}

func first(db *gorm.DB, dest any, op, query string, args ...any) error {
	err := db.Where(query, args...).First(dest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return storageErr(op, err)
	}
	return nil
}

func listLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}

type userRow struct {
	ID             int64     `gorm:"primaryKey;autoIncrement:false"`
	Username       string    `gorm:"not null"`
	FirstName      string    `gorm:"not null"`
	LastName       string    `gorm:"not null"`
	Balance        int64     `gorm:"not null;check:chk_users_balance,balance >= 0"`
	TotalDeposited int64     `gorm:"not null"`
	TotalSpent     int64     `gorm:"not null"`
	OrderCount     int       `gorm:"not null"`
	IsBanned       bool      `gorm:"not null"`
	CreatedAt      time.Time `gorm:"not null;autoCreateTime:false"`
	LastActivity   time.Time `gorm:"not null"`
}

func (userRow) TableName() string { return "users" }

func (u userRow) toModel() model.User {
	return model.User{
		ID:             u.ID,
		Username:       u.Username,
		FirstName:      u.FirstName,
		LastName:       u.LastName,
		Balance:        money.Money(u.Balance),
		TotalDeposited: money.Money(u.TotalDeposited),
		TotalSpent:     money.Money(u.TotalSpent),
		OrderCount:     u.OrderCount,
		IsBanned:       u.IsBanned,
		CreatedAt:      u.CreatedAt,
		LastActivity:   u.LastActivity,
	}
}

type ledgerRow struct {
	ID           int64     `gorm:"primaryKey"`
	UserID       int64     `gorm:"not null;index:idx_ledger_user"`
	Kind         string    `gorm:"not null"`
	Amount       int64     `gorm:"not null"`
	BalanceAfter int64     `gorm:"not null"`
	Reason       string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null;autoCreateTime:false"`
}

func (ledgerRow) TableName() string { return "ledger_entries" }

func (e ledgerRow) toModel() model.LedgerEntry {
	return model.LedgerEntry{
		ID:           e.ID,
		UserID:       e.UserID,
		Kind:         model.LedgerKind(e.Kind),
		Amount:       money.Money(e.Amount),
		BalanceAfter: money.Money(e.BalanceAfter),
		Reason:       e.Reason,
		CreatedAt:    e.CreatedAt,
	}
}

type depositRow struct {
	ID            int64     `gorm:"primaryKey"`
	UserID        int64     `gorm:"not null;index:idx_deposits_user"`
	Amount        int64     `gorm:"not null;check:chk_deposits_amount,amount > 0"`
	PaymentMethod string    `gorm:"not null"`
	Status        string    `gorm:"not null;index:idx_deposits_status"`
	ProofFileID   string    `gorm:"not null"`
	Reference     string    `gorm:"not null"`
	ProcessedBy   int64     `gorm:"not null"`
	Note          string    `gorm:"not null"`
	CreatedAt     time.Time `gorm:"not null;autoCreateTime:false"`
	UpdatedAt     time.Time `gorm:"not null;autoUpdateTime:false"`
	ProcessedAt   *time.Time
}

func (depositRow) TableName() string { return "deposits" }

func (d depositRow) toModel() model.Deposit {
	return model.Deposit{
		ID:            d.ID,
		UserID:        d.UserID,
		Amount:        money.Money(d.Amount),
		PaymentMethod: d.PaymentMethod,
		Status:        model.DepositStatus(d.Status),
		ProofFileID:   d.ProofFileID,
		Reference:     d.Reference,
		ProcessedBy:   d.ProcessedBy,
		Note:          d.Note,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
		ProcessedAt:   d.ProcessedAt,
	}
}

type categoryRow struct {
	ID          string    `gorm:"primaryKey"`
	Name        string    `gorm:"not null"`
	Description string    `gorm:"not null"`
	Active      bool      `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null;autoCreateTime:false"`
}

func (categoryRow) TableName() string { return "categories" }

func (c categoryRow) toModel() model.Category {
	return model.Category{ID: c.ID, Name: c.Name, Description: c.Description, Active: c.Active, CreatedAt: c.CreatedAt}
}

type productRow struct {
	ID          int64     `gorm:"primaryKey"`
	CategoryID  string    `gorm:"not null;index"`
	Name        string    `gorm:"not null"`
	Description string    `gorm:"not null"`
	Active      bool      `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null;autoCreateTime:false"`
}

func (productRow) TableName() string { return "products" }

func (p productRow) toModel() model.Product {
	return model.Product{
		ID:          p.ID,
		CategoryID:  p.CategoryID,
		Name:        p.Name,
		Description: p.Description,
		Active:      p.Active,
		CreatedAt:   p.CreatedAt,
	}
}

type variantRow struct {
	ID        int64     `gorm:"primaryKey"`
	ProductID int64     `gorm:"not null;index"`
	Name      string    `gorm:"not null"`
	Price     int64     `gorm:"not null;check:chk_variants_price,price > 0"`
	Stock     int       `gorm:"not null;check:chk_variants_stock,stock >= 0"`
	Active    bool      `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime:false"`
}

func (variantRow) TableName() string { return "variants" }

func (v variantRow) toModel() model.Variant {
	return model.Variant{
		ID:        v.ID,
		ProductID: v.ProductID,
		Name:      v.Name,
		Price:     money.Money(v.Price),
		Stock:     v.Stock,
		Active:    v.Active,
		CreatedAt: v.CreatedAt,
	}
}

type voucherRow struct {
	ID              int64      `gorm:"primaryKey"`
	Code            string     `gorm:"not null;uniqueIndex"`
	Name            string     `gorm:"not null"`
	Description     string     `gorm:"not null"`
	DiscountType    string     `gorm:"not null"`
	DiscountValue   int64      `gorm:"not null"`
	MinimumOrder    int64      `gorm:"not null"`
	MaximumDiscount int64      `gorm:"not null"`
	UsageLimit      int        `gorm:"not null"`
	UsageCount      int        `gorm:"not null;check:chk_vouchers_usage,usage_limit = 0 OR usage_count <= usage_limit"`
	ValidFrom       time.Time  `gorm:"not null"`
	ValidUntil      *time.Time
	IsActive        bool       `gorm:"not null"`
	CreatedAt       time.Time  `gorm:"not null;autoCreateTime:false"`
}

func (voucherRow) TableName() string { return "vouchers" }

func (v voucherRow) toModel() model.Voucher {
	return model.Voucher{
		ID:              v.ID,
		Code:            v.Code,
		Name:            v.Name,
		Description:     v.Description,
		DiscountType:    model.DiscountType(v.DiscountType),
		DiscountValue:   v.DiscountValue,
		MinimumOrder:    money.Money(v.MinimumOrder),
		MaximumDiscount: money.Money(v.MaximumDiscount),
		UsageLimit:      v.UsageLimit,
		UsageCount:      v.UsageCount,
		ValidFrom:       v.ValidFrom,
		ValidUntil:      v.ValidUntil,
		IsActive:        v.IsActive,
		CreatedAt:       v.CreatedAt,
	}
}

type orderRow struct {
	ID          int64     `gorm:"primaryKey"`
	Number      string    `gorm:"not null;uniqueIndex"`
	UserID      int64     `gorm:"not null;index:idx_orders_user"`
	VariantID   int64     `gorm:"not null"`
	ProductName string    `gorm:"not null"`
	VariantName string    `gorm:"not null"`
	Quantity    int       `gorm:"not null;check:chk_orders_quantity,quantity > 0"`
	UnitPrice   int64     `gorm:"not null"`
	Subtotal    int64     `gorm:"not null"`
	Discount    int64     `gorm:"not null"`
	Total       int64     `gorm:"not null"`
	VoucherCode string    `gorm:"not null"`
	Status      string    `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null;autoCreateTime:false"`
}

func (orderRow) TableName() string { return "orders" }

func (o orderRow) toModel() model.Order {
	return model.Order{
		ID:          o.ID,
		Number:      o.Number,
		UserID:      o.UserID,
		VariantID:   o.VariantID,
		ProductName: o.ProductName,
		VariantName: o.VariantName,
		Quantity:    o.Quantity,
		UnitPrice:   money.Money(o.UnitPrice),
		Subtotal:    money.Money(o.Subtotal),
		Discount:    money.Money(o.Discount),
		Total:       money.Money(o.Total),
		VoucherCode: o.VoucherCode,
		Status:      model.OrderStatus(o.Status),
		CreatedAt:   o.CreatedAt,
	}
}

type broadcastRow struct {
	ID          int64     `gorm:"primaryKey"`
	Message     string    `gorm:"not null"`
	Segment     string    `gorm:"not null"`
	Status      string    `gorm:"not null"`
	SentCount   int       `gorm:"not null"`
	FailedCount int       `gorm:"not null"`
	CreatedBy   int64     `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null;autoCreateTime:false"`
	SentAt      *time.Time
}

func (broadcastRow) TableName() string { return "broadcasts" }

type ticketRow struct {
	ID          int64     `gorm:"primaryKey"`
	Number      string    `gorm:"not null;uniqueIndex"`
	UserID      int64     `gorm:"not null;index:idx_tickets_user"`
	Subject     string    `gorm:"not null"`
	Message     string    `gorm:"not null"`
	Priority    string    `gorm:"not null"`
	Category    string    `gorm:"not null"`
	Status      string    `gorm:"not null;index:idx_tickets_status"`
	Response    string    `gorm:"not null"`
	RespondedBy int64     `gorm:"not null"`
	RespondedAt *time.Time
	CreatedAt   time.Time `gorm:"not null;autoCreateTime:false"`
	UpdatedAt   time.Time `gorm:"not null;autoUpdateTime:false"`
}

func (ticketRow) TableName() string { return "tickets" }

func (t ticketRow) toModel() model.Ticket {
	return model.Ticket{
		ID:          t.ID,
		Number:      t.Number,
		UserID:      t.UserID,
		Subject:     t.Subject,
		Message:     t.Message,
		Priority:    model.TicketPriority(t.Priority),
		Category:    t.Category,
		Status:      model.TicketStatus(t.Status),
		Response:    t.Response,
		RespondedBy: t.RespondedBy,
		RespondedAt: t.RespondedAt,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

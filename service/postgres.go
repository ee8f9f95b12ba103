package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuentasxpagar/backend/model"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type companyRow struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	Name      string `gorm:"not null"`
	TaxID     string
	Address   string
	Phone     string
	Email     string
	Active    bool `gorm:"not null;default:true;index"`
	CreatedAt time.Time
}

func (companyRow) TableName() string { return "companies" }

type invoiceRow struct {
	ID                  string          `gorm:"type:uuid;primaryKey"`
	CompanyID           string          `gorm:"type:uuid;not null;index"`
	InvoiceNumber       string          `gorm:"not null"`
	ProviderName        string          `gorm:"not null;index"`
	InvoiceDate         string          `gorm:"not null"`
	Amount              decimal.Decimal `gorm:"type:numeric;not null"`
	PaymentStatus       string          `gorm:"not null;default:pending;index"`
	ContractNumber      *string
	PDFStorageName      *string
	PDFOriginalName     *string
	ReceiptStorageName  *string
	ReceiptOriginalName *string
	XMLStorageName      *string
	XMLOriginalName     *string
	CreatedAt           time.Time
}

func (invoiceRow) TableName() string { return "invoices" }

// PostgresStore implements Store on PostgreSQL through GORM
type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore connects and migrates the companies and invoices tables
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)

	if err := db.AutoMigrate(&companyRow{}, &invoiceRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Close releases the connection pool
func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *PostgresStore) CreateCompany(ctx context.Context, c *model.Company) error {
	row := companyRow{
		ID: c.ID, Name: c.Name, TaxID: c.TaxID, Address: c.Address,
		Phone: c.Phone, Email: c.Email, Active: c.Active, CreatedAt: c.CreatedAt,
	}
	return translateGormError(s.db.WithContext(ctx).Create(&row).Error)
}

func (s *PostgresStore) FindActiveCompany(ctx context.Context, id string) (*model.Company, error) {
	id, ok := parseID(id)
	if !ok {
		return nil, ErrNotFound
	}
	var row companyRow
	err := s.db.WithContext(ctx).Where("id = ? AND active = ?", id, true).First(&row).Error
	if err != nil {
		return nil, translateGormError(err)
	}
	c := row.toModel()
	return &c, nil
}

func (s *PostgresStore) ListCompanies(ctx context.Context) ([]model.Company, error) {
	var rows []companyRow
	if err := s.db.WithContext(ctx).Where("active = ?", true).Order("name").Find(&rows).Error; err != nil {
		return nil, err
	}
	result := make([]model.Company, len(rows))
	for i := range rows {
		result[i] = rows[i].toModel()
	}
	return result, nil
}

func (s *PostgresStore) DeactivateCompany(ctx context.Context, id string) error {
	id, ok := parseID(id)
	if !ok {
		return ErrNotFound
	}
	res := s.db.WithContext(ctx).Model(&companyRow{}).
		Where("id = ? AND active = ?", id, true).
		Update("active", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) InsertInvoice(ctx context.Context, inv *model.Invoice) error {
	row := invoiceRowFrom(inv)
	return translateGormError(s.db.WithContext(ctx).Create(&row).Error)
}

func (s *PostgresStore) GetInvoice(ctx context.Context, id string) (*model.Invoice, error) {
	id, ok := parseID(id)
	if !ok {
		return nil, ErrNotFound
	}
	var row invoiceRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, translateGormError(err)
	}
	inv := row.toModel()
	return &inv, nil
}

func (s *PostgresStore) ListInvoices(ctx context.Context, filter InvoiceFilter) ([]model.Invoice, error) {
	q := s.db.WithContext(ctx).Model(&invoiceRow{})
	if filter.CompanyID != "" {
		companyID, ok := parseID(filter.CompanyID)
		if !ok {
			return []model.Invoice{}, nil
		}
		q = q.Where("company_id = ?", companyID)
	}
	if filter.Status != "" {
		q = q.Where("payment_status = ?", string(filter.Status))
	}
	if filter.Provider != "" {
		q = q.Where("provider_name ~* ?", filter.Provider)
	}

	var rows []invoiceRow
	if err := q.Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	result := make([]model.Invoice, len(rows))
	for i := range rows {
		result[i] = rows[i].toModel()
	}
	return result, nil
}

func (s *PostgresStore) UpdatePaymentStatus(ctx context.Context, id string, status model.PaymentStatus) error {
	return s.updateInvoice(ctx, id, map[string]any{"payment_status": string(status)})
}

func (s *PostgresStore) SetAttachment(ctx context.Context, id string, kind model.AttachmentKind, a *model.Attachment) error {
	var storageName, originalName *string
	if a != nil {
		storageName, originalName = &a.StorageName, &a.OriginalName
	}
	prefix := string(kind)
	return s.updateInvoice(ctx, id, map[string]any{
		prefix + "_storage_name":  storageName,
		prefix + "_original_name": originalName,
	})
}

func (s *PostgresStore) updateInvoice(ctx context.Context, id string, fields map[string]any) error {
	id, ok := parseID(id)
	if !ok {
		return ErrNotFound
	}
	res := s.db.WithContext(ctx).Model(&invoiceRow{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteInvoice(ctx context.Context, id string) error {
	id, ok := parseID(id)
	if !ok {
		return ErrNotFound
	}
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&invoiceRow{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SummarizeProviders(ctx context.Context, companyID string) ([]model.ProviderSummary, error) {
	companyID, ok := parseID(companyID)
	if !ok {
		return []model.ProviderSummary{}, nil
	}
	var rows []model.ProviderSummary
	err := s.db.WithContext(ctx).Model(&invoiceRow{}).
		Select(`provider_name AS provider,
			COALESCE(SUM(CASE WHEN payment_status = ? THEN amount ELSE 0 END), 0) AS pending_amount,
			COALESCE(SUM(CASE WHEN payment_status = ? THEN amount ELSE 0 END), 0) AS paid_amount,
			COUNT(*) FILTER (WHERE payment_status = ?) AS pending_count,
			COUNT(*) FILTER (WHERE payment_status = ?) AS paid_count`,
			string(model.StatusPending), string(model.StatusPaid), string(model.StatusPending), string(model.StatusPaid)).
		Where("company_id = ?", companyID).
		Group("provider_name").
		Order("pending_amount DESC, provider_name").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// parseID canonicalises a uuid key. Ids arrive from request paths, and a
// malformed one can only name a missing row.
func parseID(id string) (string, bool) {
	u, err := uuid.Parse(id)
	if err != nil {
		return "", false
	}
	return u.String(), true
}

func translateGormError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicateID
	}
	return err
}

func (r companyRow) toModel() model.Company {
	return model.Company{
		ID: r.ID, Name: r.Name, TaxID: r.TaxID, Address: r.Address,
		Phone: r.Phone, Email: r.Email, Active: r.Active, CreatedAt: r.CreatedAt,
	}
}

func invoiceRowFrom(inv *model.Invoice) invoiceRow {
	row := invoiceRow{
		ID:             inv.ID,
		CompanyID:      inv.CompanyID,
		InvoiceNumber:  inv.InvoiceNumber,
		ProviderName:   inv.ProviderName,
		InvoiceDate:    inv.InvoiceDate,
		Amount:         inv.Amount,
		PaymentStatus:  string(inv.PaymentStatus),
		ContractNumber: inv.ContractNumber,
		CreatedAt:      inv.CreatedAt,
	}
	row.PDFStorageName, row.PDFOriginalName = attachmentColumns(inv.PDF)
	row.ReceiptStorageName, row.ReceiptOriginalName = attachmentColumns(inv.Receipt)
	row.XMLStorageName, row.XMLOriginalName = attachmentColumns(inv.XML)
	return row
}

func (r invoiceRow) toModel() model.Invoice {
	return model.Invoice{
		ID:             r.ID,
		CompanyID:      r.CompanyID,
		InvoiceNumber:  r.InvoiceNumber,
		ProviderName:   r.ProviderName,
		InvoiceDate:    r.InvoiceDate,
		Amount:         r.Amount,
		PaymentStatus:  model.PaymentStatus(r.PaymentStatus),
		ContractNumber: r.ContractNumber,
		PDF:            attachmentFrom(r.PDFStorageName, r.PDFOriginalName),
		Receipt:        attachmentFrom(r.ReceiptStorageName, r.ReceiptOriginalName),
		XML:            attachmentFrom(r.XMLStorageName, r.XMLOriginalName),
		CreatedAt:      r.CreatedAt,
	}
}

func attachmentColumns(a *model.Attachment) (*string, *string) {
	if a == nil {
		return nil, nil
	}
	storage, original := a.StorageName, a.OriginalName
	return &storage, &original
}

func attachmentFrom(storage, original *string) *model.Attachment {
	if storage == nil || original == nil {
		return nil
	}
	return model.NewAttachment(*storage, *original)
}

/*
Package sqlite provides a SQLite-backed implementation of the record sources.

PURPOSE:

	Persists parties, invoices (with line items) and payment vouchers (with
	their linked-invoice rows). Implements reconcile.Source for the settlement
	service and settlement.VoucherWriter for committing drafted vouchers.
	Derived figures (net, tax, paid, balance, status) are never stored; every
	read hands raw records to the engine.

INTERFACES IMPLEMENTED:

	reconcile.InvoiceSource:  ListInvoices, GetInvoices
	reconcile.VoucherSource:  ListVouchers
	settlement.VoucherWriter: SaveVoucher

APPEND-ONLY VOUCHERS:

	Vouchers are never updated or deleted. A voucher row and its link rows
	are written in one SQL transaction. A repeated voucher id returns
	reconcile.ErrDuplicateVoucher. Corrections are new vouchers.

KEY TABLES:

	parties:        vendors and customers
	invoices:       one row per invoice; gross_amount TEXT, NULL when invalid
	invoice_items:  line items, ordered by position
	vouchers:       one row per payment voucher
	voucher_links:  voucher -> invoice amounts, ordered by position

ORDERING:

	Invoices list by date then document number. Vouchers list newest first
	(date DESC, then insertion order DESC), which is the order the linkage
	index keeps for each invoice.

DECIMALS:

	Stored as TEXT via decimal.String() so values round-trip exactly.

CONCURRENCY:

	Uses sync.RWMutex for thread-safety. ":memory:" databases are pinned to a
	single connection since each connection would otherwise see its own
	empty database.

USAGE:

	store, err := sqlite.New("./data/recon.db")
	if err != nil {
	    log.Fatal(err)
	}
	defer store.Close()

	svc := settlement.NewService(store, store, engine, log)

MIGRATION:

	Schema is auto-migrated on New().

SEE ALSO:
  - reconcile/source.go: Interface definitions
  - reconcile/store/memory.go: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/reconciliation-engine/reconcile"
)

// Store implements the record sources using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store, err := NewFromDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewFromDB wraps an already opened database and migrates it.
func NewFromDB(db *sql.DB) (*Store, error) {
	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the connection, for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Parties (vendors and customers)
	CREATE TABLE IF NOT EXISTS parties (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Invoices (raw records; derived figures are never stored)
	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		document_number TEXT NOT NULL,
		party_id TEXT NOT NULL,
		date TEXT NOT NULL,
		gross_amount TEXT,
		tax_percent TEXT,
		return_amount TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_invoices_party_date
		ON invoices(party_id, date);

	CREATE TABLE IF NOT EXISTS invoice_items (
		invoice_id TEXT NOT NULL REFERENCES invoices(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		description TEXT NOT NULL,
		quantity TEXT NOT NULL,
		unit_price TEXT NOT NULL,
		tax_percent TEXT,
		PRIMARY KEY (invoice_id, position)
	);

	-- Payment vouchers (append-only)
	CREATE TABLE IF NOT EXISTS vouchers (
		id TEXT PRIMARY KEY,
		document_number TEXT NOT NULL,
		party_id TEXT NOT NULL,
		date TEXT NOT NULL,
		payment_mode TEXT NOT NULL,
		amount TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_vouchers_party_date
		ON vouchers(party_id, date DESC);

	-- Links may reference invoices that are not (yet) stored
	CREATE TABLE IF NOT EXISTS voucher_links (
		voucher_id TEXT NOT NULL REFERENCES vouchers(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		invoice_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		PRIMARY KEY (voucher_id, position)
	);

	CREATE INDEX IF NOT EXISTS idx_voucher_links_invoice
		ON voucher_links(invoice_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// PARTY STORE
// =============================================================================

// Party is a vendor or customer record.
type Party struct {
	ID        reconcile.PartyID
	Name      string
	Kind      reconcile.PartyKind
	CreatedAt time.Time
}

// SaveParty inserts or updates a party.
func (s *Store) SaveParty(ctx context.Context, p Party) error {
	if err := checkParty(p); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO parties (id, name, kind, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			kind = excluded.kind
	`

	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.Name, p.Kind,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save party: %w", err)
	}
	return nil
}

func checkParty(p Party) error {
	if p.ID == "" {
		return reconcile.ErrMissingID
	}
	if !p.Kind.IsValid() {
		return &reconcile.FieldError{Field: "kind", Value: string(p.Kind), Err: reconcile.ErrInvalidPartyKind}
	}
	return nil
}

// GetParty retrieves a party by ID. Returns nil if it does not exist.
func (s *Store) GetParty(ctx context.Context, id reconcile.PartyID) (*Party, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var p Party
	var createdAt string

	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, kind, created_at FROM parties WHERE id = ?",
		id,
	).Scan(&p.ID, &p.Name, &p.Kind, &createdAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &p, nil
}

// ListParties returns all parties ordered by name.
func (s *Store) ListParties(ctx context.Context) ([]Party, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, kind, created_at FROM parties ORDER BY name, id",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var parties []Party
	for rows.Next() {
		var p Party
		var createdAt string
		if err := rows.Scan(&p.ID, &p.Name, &p.Kind, &createdAt); err != nil {
			return nil, err
		}
		p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		parties = append(parties, p)
	}
	return parties, rows.Err()
}

// =============================================================================
// INVOICE STORE (reconcile.InvoiceSource interface)
// =============================================================================

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SaveInvoice inserts or replaces an invoice and its line items atomically.
func (s *Store) SaveInvoice(ctx context.Context, inv reconcile.Invoice) error {
	if inv.ID == "" {
		return reconcile.ErrMissingID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := saveInvoiceTx(ctx, sqlTx, inv); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func saveInvoiceTx(ctx context.Context, db execer, inv reconcile.Invoice) error {
	query := `
		INSERT INTO invoices
		(id, document_number, party_id, date, gross_amount, tax_percent, return_amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			document_number = excluded.document_number,
			party_id = excluded.party_id,
			date = excluded.date,
			gross_amount = excluded.gross_amount,
			tax_percent = excluded.tax_percent,
			return_amount = excluded.return_amount
	`

	_, err := db.ExecContext(ctx, query,
		inv.ID,
		inv.DocumentNumber,
		inv.PartyID,
		inv.Date.UTC().Format(time.RFC3339),
		nullDecimal(inv.GrossAmount),
		nullDecimal(inv.TaxPercent),
		inv.ReturnAmount.String(),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save invoice: %w", err)
	}

	if _, err := db.ExecContext(ctx, "DELETE FROM invoice_items WHERE invoice_id = ?", inv.ID); err != nil {
		return fmt.Errorf("failed to replace invoice items: %w", err)
	}
	for i, item := range inv.LineItems {
		_, err := db.ExecContext(ctx, `
			INSERT INTO invoice_items (invoice_id, position, description, quantity, unit_price, tax_percent)
			VALUES (?, ?, ?, ?, ?, ?)`,
			inv.ID, i, item.Description,
			item.Quantity.String(), item.UnitPrice.String(),
			nullDecimal(item.TaxPercent),
		)
		if err != nil {
			return fmt.Errorf("failed to save invoice item %d: %w", i, err)
		}
	}
	return nil
}

const invoiceColumns = `id, document_number, party_id, date, gross_amount, tax_percent, return_amount`

// ListInvoices returns a party's invoices by date. An empty partyID lists all.
func (s *Store) ListInvoices(ctx context.Context, partyID reconcile.PartyID) ([]reconcile.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + invoiceColumns + ` FROM invoices`
	var args []any
	if partyID != "" {
		query += ` WHERE party_id = ?`
		args = append(args, partyID)
	}
	query += ` ORDER BY date ASC, document_number ASC, id ASC`

	invoices, err := s.queryInvoices(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if err := s.attachItems(ctx, invoices); err != nil {
		return nil, err
	}
	return invoices, nil
}

// GetInvoices returns the invoices with the given ids in request order.
// Unknown ids are skipped.
func (s *Store) GetInvoices(ctx context.Context, ids []reconcile.InvoiceID) ([]reconcile.Invoice, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id IN (` + placeholders(len(ids)) + `)`

	found, err := s.queryInvoices(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if err := s.attachItems(ctx, found); err != nil {
		return nil, err
	}

	byID := make(map[reconcile.InvoiceID]reconcile.Invoice, len(found))
	for _, inv := range found {
		byID[inv.ID] = inv
	}
	result := make([]reconcile.Invoice, 0, len(found))
	for _, id := range ids {
		if inv, ok := byID[id]; ok {
			result = append(result, inv)
		}
	}
	return result, nil
}

func (s *Store) queryInvoices(ctx context.Context, query string, args ...any) ([]reconcile.Invoice, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", err)
	}
	defer rows.Close()

	var invoices []reconcile.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

func scanInvoice(rows *sql.Rows) (reconcile.Invoice, error) {
	var (
		inv          reconcile.Invoice
		date         string
		grossAmount  sql.NullString
		taxPercent   sql.NullString
		returnAmount string
	)

	err := rows.Scan(
		&inv.ID, &inv.DocumentNumber, &inv.PartyID, &date,
		&grossAmount, &taxPercent, &returnAmount,
	)
	if err != nil {
		return inv, fmt.Errorf("failed to scan invoice: %w", err)
	}

	inv.Date, _ = time.Parse(time.RFC3339, date)
	inv.GrossAmount = parseNullDecimal(grossAmount)
	inv.TaxPercent = parseNullDecimal(taxPercent)
	inv.ReturnAmount = parseDecimal(returnAmount)
	return inv, nil
}

// attachItems loads line items for the given invoices in one query.
func (s *Store) attachItems(ctx context.Context, invoices []reconcile.Invoice) error {
	if len(invoices) == 0 {
		return nil
	}

	args := make([]any, len(invoices))
	pos := make(map[reconcile.InvoiceID]int, len(invoices))
	for i, inv := range invoices {
		args[i] = inv.ID
		pos[inv.ID] = i
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT invoice_id, description, quantity, unit_price, tax_percent
		FROM invoice_items
		WHERE invoice_id IN (`+placeholders(len(invoices))+`)
		ORDER BY invoice_id, position`, args...)
	if err != nil {
		return fmt.Errorf("failed to query invoice items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			invoiceID           reconcile.InvoiceID
			item                reconcile.LineItem
			quantity, unitPrice string
			taxPercent          sql.NullString
		)
		if err := rows.Scan(&invoiceID, &item.Description, &quantity, &unitPrice, &taxPercent); err != nil {
			return fmt.Errorf("failed to scan invoice item: %w", err)
		}
		item.Quantity = parseDecimal(quantity)
		item.UnitPrice = parseDecimal(unitPrice)
		item.TaxPercent = parseNullDecimal(taxPercent)

		i := pos[invoiceID]
		invoices[i].LineItems = append(invoices[i].LineItems, item)
	}
	return rows.Err()
}

// =============================================================================
// VOUCHER STORE (reconcile.VoucherSource, settlement.VoucherWriter)
// =============================================================================

// SaveVoucher appends a voucher and its links atomically.
func (s *Store) SaveVoucher(ctx context.Context, v reconcile.PaymentVoucher) error {
	if v.ID == "" {
		return reconcile.ErrMissingID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := saveVoucherTx(ctx, sqlTx, v); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func saveVoucherTx(ctx context.Context, db execer, v reconcile.PaymentVoucher) error {
	query := `
		INSERT INTO vouchers
		(id, document_number, party_id, date, payment_mode, amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.ExecContext(ctx, query,
		v.ID,
		v.DocumentNumber,
		v.PartyID,
		v.Date.UTC().Format(time.RFC3339),
		v.Mode,
		v.Amount.String(),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return reconcile.ErrDuplicateVoucher
		}
		return fmt.Errorf("failed to append voucher: %w", err)
	}

	for i, link := range v.LinkedInvoices {
		_, err := db.ExecContext(ctx, `
			INSERT INTO voucher_links (voucher_id, position, invoice_id, amount)
			VALUES (?, ?, ?, ?)`,
			v.ID, i, link.InvoiceID, link.Amount.String(),
		)
		if err != nil {
			return fmt.Errorf("failed to append voucher link %d: %w", i, err)
		}
	}
	return nil
}

// ListVouchers returns a party's vouchers newest first. An empty partyID
// lists all.
func (s *Store) ListVouchers(ctx context.Context, partyID reconcile.PartyID) ([]reconcile.PaymentVoucher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, document_number, party_id, date, payment_mode, amount FROM vouchers`
	var args []any
	if partyID != "" {
		query += ` WHERE party_id = ?`
		args = append(args, partyID)
	}
	query += ` ORDER BY date DESC, rowid DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query vouchers: %w", err)
	}

	var vouchers []reconcile.PaymentVoucher
	for rows.Next() {
		var (
			v      reconcile.PaymentVoucher
			date   string
			amount string
		)
		if err := rows.Scan(&v.ID, &v.DocumentNumber, &v.PartyID, &date, &v.Mode, &amount); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan voucher: %w", err)
		}
		v.Date, _ = time.Parse(time.RFC3339, date)
		v.Amount = parseDecimal(amount)
		vouchers = append(vouchers, v)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if err := s.attachLinks(ctx, vouchers); err != nil {
		return nil, err
	}
	return vouchers, nil
}

func (s *Store) attachLinks(ctx context.Context, vouchers []reconcile.PaymentVoucher) error {
	if len(vouchers) == 0 {
		return nil
	}

	args := make([]any, len(vouchers))
	pos := make(map[reconcile.VoucherID]int, len(vouchers))
	for i, v := range vouchers {
		args[i] = v.ID
		pos[v.ID] = i
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT voucher_id, invoice_id, amount
		FROM voucher_links
		WHERE voucher_id IN (`+placeholders(len(vouchers))+`)
		ORDER BY voucher_id, position`, args...)
	if err != nil {
		return fmt.Errorf("failed to query voucher links: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			voucherID reconcile.VoucherID
			link      reconcile.LinkedInvoice
			amount    string
		)
		if err := rows.Scan(&voucherID, &link.InvoiceID, &amount); err != nil {
			return fmt.Errorf("failed to scan voucher link: %w", err)
		}
		link.Amount = parseDecimal(amount)

		i := pos[voucherID]
		vouchers[i].LinkedInvoices = append(vouchers[i].LinkedInvoices, link)
	}
	return rows.Err()
}

// =============================================================================
// BULK LOAD
// =============================================================================

// Import stores parties, invoices and vouchers in one transaction. Used to
// seed demo scenarios.
func (s *Store) Import(ctx context.Context, parties []Party, invoices []reconcile.Invoice, vouchers []reconcile.PaymentVoucher) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, p := range parties {
		if err := checkParty(p); err != nil {
			return err
		}
		_, err := sqlTx.ExecContext(ctx, `
			INSERT INTO parties (id, name, kind, created_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET name = excluded.name, kind = excluded.kind`,
			p.ID, p.Name, p.Kind, now)
		if err != nil {
			return fmt.Errorf("failed to import party %s: %w", p.ID, err)
		}
	}
	for _, inv := range invoices {
		if err := saveInvoiceTx(ctx, sqlTx, inv); err != nil {
			return err
		}
	}
	for _, v := range vouchers {
		if err := saveVoucherTx(ctx, sqlTx, v); err != nil {
			return err
		}
	}
	return sqlTx.Commit()
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"voucher_links", "vouchers", "invoice_items", "invoices", "parties"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func nullDecimal(d decimal.NullDecimal) sql.NullString {
	if !d.Valid {
		return sql.NullString{}
	}
	return sql.NullString{String: d.Decimal.String(), Valid: true}
}

func parseNullDecimal(s sql.NullString) decimal.NullDecimal {
	if !s.Valid {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}

var _ reconcile.Source = (*Store)(nil)

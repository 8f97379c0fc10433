package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/solderstack/gatehouse/internal/model"
)

// MySQLStore backs the ports with two tables. Uniqueness of credential
// keys rides on the primary key of the credentials table, so a
// conditional create is a plain INSERT whose duplicate-key failure maps
// to a Conflict. Account lookups use secondary indexes on the stored
// canonical forms.
type MySQLStore struct {
	db *sql.DB
}

var _ Store = (*MySQLStore)(nil)

func NewMySQLStore(db *sql.DB) *MySQLStore { return &MySQLStore{db: db} }

// OpenMySQL connects, verifies the connection and applies pool settings.
func OpenMySQL(user, pass, host, port, name string) (*sql.DB, error) {
	auth := user
	if pass != "" {
		auth = fmt.Sprintf("%s:%s", user, pass)
	}
	// parseTime=true -> DATETIME -> time.Time | loc=UTC keeps times consistent
	dsn := fmt.Sprintf("%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&loc=UTC",
		auth, host, port, name)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return db, nil
}

// EnsureSchema creates the tables when they do not exist yet.
func (s *MySQLStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id VARCHAR(64) NOT NULL,
			email VARCHAR(255) NOT NULL,
			username VARCHAR(60) NOT NULL,
			username_canonical VARCHAR(60) NOT NULL,
			name VARCHAR(255) NOT NULL DEFAULT '',
			roles JSON NOT NULL,
			facebook_id VARCHAR(64) NULL,
			metadata JSON NULL,
			created_at DATETIME(3) NOT NULL,
			updated_at DATETIME(3) NOT NULL,
			PRIMARY KEY (id),
			KEY accounts_email (email),
			KEY accounts_username (username_canonical),
			KEY accounts_facebook (facebook_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		`CREATE TABLE IF NOT EXISTS credentials (
			id VARCHAR(340) NOT NULL,
			cred_type VARCHAR(16) NOT NULL,
			cred_value VARCHAR(320) NOT NULL,
			account_id VARCHAR(64) NOT NULL,
			created_at DATETIME(3) NOT NULL,
			PRIMARY KEY (id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("mysql: ensure schema: %w", err)
		}
	}
	return nil
}

func isDuplicateKey(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}

const accountColumns = "id, email, username, username_canonical, name, roles, facebook_id, metadata, created_at, updated_at"

func scanAccount(row interface{ Scan(...any) error }) (*model.Account, error) {
	var (
		acc        model.Account
		canonical  string
		rolesRaw   []byte
		facebookID sql.NullString
		metaRaw    []byte
	)
	err := row.Scan(&acc.ID, &acc.Email, &acc.Username, &canonical, &acc.Name,
		&rolesRaw, &facebookID, &metaRaw, &acc.CreatedAt, &acc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(rolesRaw, &acc.Roles); err != nil {
		return nil, fmt.Errorf("mysql: decode roles: %w", err)
	}
	if facebookID.Valid {
		acc.FacebookID = facebookID.String
	}
	if len(metaRaw) > 0 {
		if err := json.Unmarshal(metaRaw, &acc.Metadata); err != nil {
			return nil, fmt.Errorf("mysql: decode metadata: %w", err)
		}
	}
	return &acc, nil
}

func accountArgs(acc model.Account) ([]any, error) {
	rolesRaw, err := json.Marshal(acc.Roles)
	if err != nil {
		return nil, err
	}
	var metaRaw any
	if len(acc.Metadata) > 0 {
		raw, err := json.Marshal(acc.Metadata)
		if err != nil {
			return nil, err
		}
		metaRaw = raw
	}
	var facebookID any
	if acc.FacebookID != "" {
		facebookID = acc.FacebookID
	}
	return []any{acc.ID, acc.Email, acc.Username, acc.CanonicalUsername(), acc.Name,
		rolesRaw, facebookID, metaRaw, acc.CreatedAt, acc.UpdatedAt}, nil
}

func (s *MySQLStore) Create(ctx context.Context, acc model.Account) (*model.Account, error) {
	now := time.Now().UTC()
	acc.CreatedAt = now
	acc.UpdatedAt = now

	args, err := accountArgs(acc)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO accounts ("+accountColumns+") VALUES (?,?,?,?,?,?,?,?,?,?)", args...)
	if err != nil {
		if isDuplicateKey(err) {
			return nil, errAccountExists(acc.ID)
		}
		return nil, err
	}
	return &acc, nil
}

func (s *MySQLStore) Update(ctx context.Context, accountID string, changes model.AccountUpdate) (*model.Account, *model.Account, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE id=? FOR UPDATE", accountID)
	prev, err := scanAccount(row)
	if err != nil {
		return nil, nil, err
	}
	if prev == nil {
		return nil, nil, errAccountNotFound(accountID)
	}

	curr := applyUpdate(*prev, changes)
	curr.UpdatedAt = time.Now().UTC()

	args, err := accountArgs(curr)
	if err != nil {
		return nil, nil, err
	}
	// Reuse the insert argument order; id moves to the WHERE clause.
	_, err = tx.ExecContext(ctx,
		`UPDATE accounts
		 SET email=?, username=?, username_canonical=?, name=?, roles=?, facebook_id=?, metadata=?, updated_at=?
		 WHERE id=?`,
		args[1], args[2], args[3], args[4], args[5], args[6], args[7], args[9], accountID)
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return prev, &curr, nil
}

func (s *MySQLStore) Remove(ctx context.Context, accountID string) (*model.Account, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE id=? FOR UPDATE", accountID)
	prev, err := scanAccount(row)
	if err != nil {
		return nil, err
	}
	if prev == nil {
		return nil, nil
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM accounts WHERE id=?", accountID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return prev, nil
}

func (s *MySQLStore) FindByID(ctx context.Context, accountID string, opts FindOptions) (*model.Account, error) {
	return s.findOne(ctx, "id=?", accountID, opts)
}

func (s *MySQLStore) FindByIDs(ctx context.Context, accountIDs []string, opts FindOptions) ([]model.Account, error) {
	if len(accountIDs) == 0 {
		return nil, nil
	}
	placeholders := ""
	args := make([]any, len(accountIDs))
	for i, id := range accountIDs {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, project(*acc, opts))
	}
	return out, rows.Err()
}

func (s *MySQLStore) FindByEmail(ctx context.Context, email string, opts FindOptions) (*model.Account, error) {
	return s.findOne(ctx, "email=?", model.CanonicalizeEmail(email), opts)
}

func (s *MySQLStore) FindByUsername(ctx context.Context, username string, opts FindOptions) (*model.Account, error) {
	return s.findOne(ctx, "username_canonical=?", model.CanonicalizeUsername(username), opts)
}

func (s *MySQLStore) FindByFacebookID(ctx context.Context, facebookID string, opts FindOptions) (*model.Account, error) {
	return s.findOne(ctx, "facebook_id=?", facebookID, opts)
}

func (s *MySQLStore) findOne(ctx context.Context, where string, arg string, opts FindOptions) (*model.Account, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE "+where+" LIMIT 1", arg)
	acc, err := scanAccount(row)
	if err != nil || acc == nil {
		return nil, err
	}
	out := project(*acc, opts)
	return &out, nil
}

func (s *MySQLStore) CreateCredential(ctx context.Context, cred model.Credential) error {
	if cred.Value == "" {
		return errCredentialRequired(cred.Type)
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO credentials (id, cred_type, cred_value, account_id, created_at) VALUES (?,?,?,?,?)",
		cred.Key(), string(cred.Type), cred.Value, cred.AccountID, time.Now().UTC())
	if err != nil {
		if isDuplicateKey(err) {
			return errCredentialTaken(cred.Type)
		}
		return err
	}
	return nil
}

func (s *MySQLStore) RemoveCredential(ctx context.Context, typ model.CredentialType, value, accountID string) error {
	if value == "" {
		return errCredentialRequired(typ)
	}
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM credentials WHERE id=? AND account_id=?",
		model.CredentialKey(typ, value), accountID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errCredentialNotFound(typ, value)
	}
	return nil
}

func (s *MySQLStore) GetCredential(ctx context.Context, typ model.CredentialType, value string) (*model.Credential, error) {
	var cred model.Credential
	var credType string
	err := s.db.QueryRowContext(ctx,
		"SELECT cred_type, cred_value, account_id, created_at FROM credentials WHERE id=? LIMIT 1",
		model.CredentialKey(typ, value)).
		Scan(&credType, &cred.Value, &cred.AccountID, &cred.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cred.Type = model.CredentialType(credType)
	return &cred, nil
}

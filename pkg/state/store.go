// Package state persists per-user, per-environment onboarding progress and
// the operation log.
package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethpandaops/onboardoor/pkg/config"
	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// ErrGroupNotRecorded is returned when a source is recorded for a user and
// environment that has no created group.
var ErrGroupNotRecorded = errors.New("no created group recorded")

// defaultListLimit caps ListOperations when the filter sets no limit.
const defaultListLimit = 100

// sqlitePragmas are applied to every sqlite connection.
const sqlitePragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

// Store persists onboarding progress.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	EnsureUser(ctx context.Context, id, email string, isAdmin bool) error

	IsInvited(ctx context.Context, userID string, env config.Environment) (bool, error)
	RecordInvitation(ctx context.Context, userID string, env config.Environment, alreadyExisted bool) error

	IsGroupCreated(ctx context.Context, userID string, env config.Environment) (bool, error)
	GetGroupAPIID(ctx context.Context, userID string, env config.Environment) (string, error)
	RecordGroupCreation(ctx context.Context, userID string, env config.Environment, apiID, name string) error

	IsSourceCreated(ctx context.Context, userID string, env config.Environment) (bool, error)
	RecordSourceCreation(ctx context.Context, userID string, env config.Environment, apiID, name string) error

	GetStatus(ctx context.Context, userID string, env config.Environment) (*Status, error)
	GetAllStatuses(ctx context.Context, env config.Environment) ([]Status, error)

	// Reset operations run in a single transaction each.
	ResetUser(ctx context.Context, userID string, env config.Environment) error
	ResetEnvironment(ctx context.Context, env config.Environment) error
	ResetUserGroups(ctx context.Context, userID string, env config.Environment) error
	ResetUserSources(ctx context.Context, userID string, env config.Environment) error

	LogOperation(ctx context.Context, entry *OperationLog) error
	ListOperations(ctx context.Context, filter OperationFilter) ([]OperationLog, error)
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new Store backed by the configured database driver.
func NewStore(log logrus.FieldLogger, cfg *config.DatabaseConfig) Store {
	return &store{
		log: log.WithField("component", "state"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var (
		dialector gorm.Dialector
		err       error
	)

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dsn, dsnErr := sqliteDSN(s.cfg.SQLite.Path)
		if dsnErr != nil {
			return dsnErr
		}

		dialector = sqlite.Open(dsn)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	s.db, err = gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	if s.cfg.Driver == "sqlite" {
		sqlDB, dbErr := s.db.DB()
		if dbErr != nil {
			return fmt.Errorf("getting underlying db: %w", dbErr)
		}

		// One connection serialises writers across goroutines.
		sqlDB.SetMaxOpenConns(1)
	}

	if err := s.db.WithContext(ctx).AutoMigrate(
		&User{},
		&Invitation{},
		&Group{},
		&Source{},
		&OperationLog{},
	); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("State store connected")

	return nil
}

func sqliteDSN(path string) (string, error) {
	if path == "" {
		return "", errors.New("sqlite path is empty")
	}

	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", fmt.Errorf("creating database directory: %w", err)
		}
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}

	return path + sep + sqlitePragmas, nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

func userEnv(db *gorm.DB, userID string, env config.Environment) *gorm.DB {
	return db.Where("user_id = ? AND environment = ?", userID, env)
}

func userEnvConflict(columns ...string) clause.OnConflict {
	return clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "environment"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}
}

// --- Users ---

func (s *store) EnsureUser(ctx context.Context, id, email string, isAdmin bool) error {
	user := User{ID: id, Email: email, IsAdmin: isAdmin}

	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&user).Error; err != nil {
		return fmt.Errorf("ensuring user %s: %w", id, err)
	}

	return nil
}

// --- Invitations ---

func (s *store) IsInvited(ctx context.Context, userID string, env config.Environment) (bool, error) {
	var n int64
	if err := userEnv(s.db.WithContext(ctx).Model(&Invitation{}), userID, env).
		Where("sent = ? OR already_existed = ?", true, true).
		Count(&n).Error; err != nil {
		return false, fmt.Errorf("checking invitation: %w", err)
	}

	return n > 0, nil
}

func (s *store) RecordInvitation(
	ctx context.Context, userID string, env config.Environment, alreadyExisted bool,
) error {
	inv := Invitation{
		UserID:         userID,
		Environment:    env,
		Sent:           !alreadyExisted,
		SentAt:         time.Now().UTC(),
		AlreadyExisted: alreadyExisted,
	}

	if err := s.db.WithContext(ctx).
		Clauses(userEnvConflict("sent", "sent_at", "already_existed")).
		Create(&inv).Error; err != nil {
		return fmt.Errorf("recording invitation: %w", err)
	}

	return nil
}

// --- Groups ---

func (s *store) IsGroupCreated(ctx context.Context, userID string, env config.Environment) (bool, error) {
	var n int64
	if err := userEnv(s.db.WithContext(ctx).Model(&Group{}), userID, env).
		Where("created = ?", true).
		Count(&n).Error; err != nil {
		return false, fmt.Errorf("checking group: %w", err)
	}

	return n > 0, nil
}

func (s *store) GetGroupAPIID(ctx context.Context, userID string, env config.Environment) (string, error) {
	var groups []Group
	if err := userEnv(s.db.WithContext(ctx), userID, env).
		Where("created = ?", true).
		Limit(1).
		Find(&groups).Error; err != nil {
		return "", fmt.Errorf("getting group api id: %w", err)
	}

	if len(groups) == 0 {
		return "", nil
	}

	return groups[0].APIID, nil
}

func (s *store) RecordGroupCreation(
	ctx context.Context, userID string, env config.Environment, apiID, name string,
) error {
	if apiID == "" {
		return errors.New("recording group creation: api id is empty")
	}

	group := Group{
		UserID:      userID,
		Environment: env,
		APIID:       apiID,
		Name:        name,
		Created:     true,
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.db.WithContext(ctx).
		Clauses(userEnvConflict("api_id", "name", "created", "created_at")).
		Create(&group).Error; err != nil {
		return fmt.Errorf("recording group creation: %w", err)
	}

	return nil
}

// --- Sources ---

func (s *store) IsSourceCreated(ctx context.Context, userID string, env config.Environment) (bool, error) {
	var n int64
	if err := userEnv(s.db.WithContext(ctx).Model(&Source{}), userID, env).
		Where("created = ?", true).
		Count(&n).Error; err != nil {
		return false, fmt.Errorf("checking source: %w", err)
	}

	return n > 0, nil
}

func (s *store) RecordSourceCreation(
	ctx context.Context, userID string, env config.Environment, apiID, name string,
) error {
	if apiID == "" {
		return errors.New("recording source creation: api id is empty")
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var groups []Group
		if err := userEnv(tx, userID, env).
			Where("created = ?", true).
			Limit(1).
			Find(&groups).Error; err != nil {
			return fmt.Errorf("resolving group: %w", err)
		}

		if len(groups) == 0 {
			return ErrGroupNotRecorded
		}

		source := Source{
			UserID:      userID,
			Environment: env,
			GroupID:     &groups[0].ID,
			APIID:       apiID,
			Name:        name,
			Created:     true,
			CreatedAt:   time.Now().UTC(),
		}

		return tx.Clauses(userEnvConflict("group_id", "api_id", "name", "created", "created_at")).
			Create(&source).Error
	})
	if err != nil {
		return fmt.Errorf("recording source creation for %s/%s: %w", userID, env, err)
	}

	return nil
}

// --- Status ---

func (s *store) GetStatus(ctx context.Context, userID string, env config.Environment) (*Status, error) {
	status := &Status{UserID: userID}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var users []User
		if err := tx.Where("id = ?", userID).Limit(1).Find(&users).Error; err != nil {
			return err
		}

		if len(users) > 0 {
			status.Email = users[0].Email
		}

		var invitations []Invitation
		if err := userEnv(tx, userID, env).Limit(1).Find(&invitations).Error; err != nil {
			return err
		}

		if len(invitations) > 0 {
			status.Invited = invitations[0].Sent || invitations[0].AlreadyExisted
		}

		var groups []Group
		if err := userEnv(tx, userID, env).Limit(1).Find(&groups).Error; err != nil {
			return err
		}

		if len(groups) > 0 && groups[0].Created {
			status.GroupCreated = true
			status.GroupAPIID = groups[0].APIID
		}

		var sources []Source
		if err := userEnv(tx, userID, env).Limit(1).Find(&sources).Error; err != nil {
			return err
		}

		if len(sources) > 0 && sources[0].Created {
			status.SourceCreated = true
			status.SourceAPIID = sources[0].APIID
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("getting status: %w", err)
	}

	return status, nil
}

// allStatusesQuery outer-joins every non-admin user with its progress rows.
const allStatusesQuery = `
SELECT
	u.id AS user_id,
	u.email AS email,
	CASE WHEN i.sent OR i.already_existed THEN 1 ELSE 0 END AS invited,
	CASE WHEN g.created THEN 1 ELSE 0 END AS group_created,
	CASE WHEN s.created THEN 1 ELSE 0 END AS source_created,
	CASE WHEN g.created THEN g.api_id ELSE '' END AS group_api_id,
	CASE WHEN s.created THEN s.api_id ELSE '' END AS source_api_id
FROM users u
LEFT JOIN invitations i ON i.user_id = u.id AND i.environment = ?
LEFT JOIN "groups" g ON g.user_id = u.id AND g.environment = ?
LEFT JOIN sources s ON s.user_id = u.id AND s.environment = ?
WHERE u.is_admin = ?
ORDER BY u.id ASC`

func (s *store) GetAllStatuses(ctx context.Context, env config.Environment) ([]Status, error) {
	var statuses []Status
	if err := s.db.WithContext(ctx).
		Raw(allStatusesQuery, env, env, env, false).
		Scan(&statuses).Error; err != nil {
		return nil, fmt.Errorf("listing statuses: %w", err)
	}

	return statuses, nil
}

// --- Resets ---

func (s *store) ResetUser(ctx context.Context, userID string, env config.Environment) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []any{&Source{}, &Group{}, &Invitation{}} {
			if err := userEnv(tx, userID, env).Delete(model).Error; err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("resetting user %s in %s: %w", userID, env, err)
	}

	return nil
}

func (s *store) ResetEnvironment(ctx context.Context, env config.Environment) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []any{&Source{}, &Group{}, &Invitation{}} {
			if err := tx.Where("environment = ?", env).Delete(model).Error; err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("resetting environment %s: %w", env, err)
	}

	return nil
}

func (s *store) ResetUserGroups(ctx context.Context, userID string, env config.Environment) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := userEnv(tx.Model(&Source{}), userID, env).
			Update("group_id", nil).Error; err != nil {
			return err
		}

		return userEnv(tx, userID, env).Delete(&Group{}).Error
	})
	if err != nil {
		return fmt.Errorf("resetting groups of %s in %s: %w", userID, env, err)
	}

	return nil
}

func (s *store) ResetUserSources(ctx context.Context, userID string, env config.Environment) error {
	if err := userEnv(s.db.WithContext(ctx), userID, env).
		Delete(&Source{}).Error; err != nil {
		return fmt.Errorf("resetting sources of %s in %s: %w", userID, env, err)
	}

	return nil
}

// --- Operation log ---

func (s *store) LogOperation(ctx context.Context, entry *OperationLog) error {
	entry.ID = 0

	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("logging operation: %w", err)
	}

	return nil
}

func (s *store) ListOperations(ctx context.Context, filter OperationFilter) ([]OperationLog, error) {
	q := s.db.WithContext(ctx).Model(&OperationLog{})

	if filter.Environment != "" {
		q = q.Where("environment = ?", filter.Environment)
	}

	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}

	if filter.RunID != "" {
		q = q.Where("run_id = ?", filter.RunID)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	var entries []OperationLog
	if err := q.Order("id DESC").Limit(limit).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}

	return entries, nil
}

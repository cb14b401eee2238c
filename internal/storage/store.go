package storage

import (
	"context"
	_ "embed"
	"errors"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"go.uber.org/zap"

	"teamchat/internal/storage/zapadapter"
)

//go:embed schema.sql
var schema string

// Store is the Postgres Gateway
type Store struct {
	logger *zap.SugaredLogger
	db     *pgxpool.Pool
}

var _ Gateway = (*Store)(nil)

// NewStore sets provided zap.Logger via zapadapter to pgxpool.Pool and returns instance of Store struct
func NewStore(ctx context.Context, logger *zap.SugaredLogger, cfg Config, opts ...Option) (*Store, error) {
	config, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, err
	}
	config.ConnConfig.Logger = zapadapter.NewLogger(logger.Desugar())
	config.ConnConfig.LogLevel = pgx.LogLevelWarn

	for _, opt := range opts {
		opt.apply(config)
	}

	pool, err := pgxpool.ConnectConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	return &Store{
		logger: logger,
		db:     pool,
	}, nil
}

// Migrate creates tables and indexes when they are missing
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schema)
	return err
}

func (s *Store) Close() {
	s.db.Close()
}

// CreateUser creates user and returns it
func (s *Store) CreateUser(ctx context.Context, name, email, passwordHash string) (User, error) {
	s.logger.Debugf("Creating user (%s)", email)

	u := User{Name: name, Email: email, PasswordHash: passwordHash}
	sql := "insert into users (name, email, password_hash) values ($1, $2, $3) returning id, created_at"
	err := s.db.QueryRow(ctx, sql, name, email, passwordHash).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return User{}, ErrEmailExists
		}
		return User{}, err
	}

	s.logger.Debugf("Created user (%s) with id %d", email, u.ID)

	return u, nil
}

func (s *Store) UserByID(ctx context.Context, id int64) (User, error) {
	sql := "select id, name, email, password_hash, last_active, created_at from users where id = $1"
	return s.scanUser(s.db.QueryRow(ctx, sql, id))
}

func (s *Store) UserByEmail(ctx context.Context, email string) (User, error) {
	sql := "select id, name, email, password_hash, last_active, created_at from users where email = $1"
	return s.scanUser(s.db.QueryRow(ctx, sql, email))
}

func (s *Store) scanUser(row pgx.Row) (User, error) {
	var (
		u          User
		lastActive pgtype.Timestamptz
	)
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &lastActive, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotExist
		}
		return User{}, err
	}

	if lastActive.Status == pgtype.Present {
		u.LastActive = lastActive.Time
	}

	return u, nil
}

func (s *Store) TouchUser(ctx context.Context, id int64, at time.Time) error {
	tag, err := s.db.Exec(ctx, "update users set last_active = $2 where id = $1", id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotExist
	}
	return nil
}

func (s *Store) UsersActiveSince(ctx context.Context, since time.Time) ([]UserSummary, error) {
	sql := `select id, name, email
			  from users
			 where last_active >= $1
			 order by name, id`

	rows, err := s.db.Query(ctx, sql, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []UserSummary{}
	for rows.Next() {
		var u UserSummary
		if err = rows.Scan(&u.ID, &u.Name, &u.Email); err != nil {
			return nil, err
		}
		users = append(users, u)
	}

	return users, rows.Err()
}

// CreateChannel performs two-step transaction
// (1. insert channel record; 2. insert creator membership) and returns the channel
func (s *Store) CreateChannel(ctx context.Context, name string, creator int64) (Channel, error) {
	s.logger.Debugf("Creating channel (%s) by user (id: %d)", name, creator)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Channel{}, err
	}
	// error handling can be omitted for rollback according docs
	// see https://pkg.go.dev/github.com/jackc/pgx/v4?tab=doc#hdr-Transactions or any source comment on Rollback
	defer tx.Rollback(context.Background())

	c := Channel{Name: name}
	sql := "insert into channels (name) values ($1) returning id, created_at"
	if err = tx.QueryRow(ctx, sql, name).Scan(&c.ID, &c.CreatedAt); err != nil {
		return Channel{}, err
	}

	sql = "insert into memberships (user_id, channel_id) values ($1, $2)"
	if _, err = tx.Exec(ctx, sql, creator, c.ID); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return Channel{}, ErrUserNotExist
		}
		return Channel{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return Channel{}, err
	}

	s.logger.Debugf("Created channel (%s) with id %d", name, c.ID)

	return c, nil
}

func (s *Store) ChannelByID(ctx context.Context, id int64) (Channel, error) {
	var c Channel
	sql := "select id, name, created_at from channels where id = $1"
	err := s.db.QueryRow(ctx, sql, id).Scan(&c.ID, &c.Name, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Channel{}, ErrChannelNotExist
		}
		return Channel{}, err
	}
	return c, nil
}

func (s *Store) Channels(ctx context.Context) ([]ChannelSummary, error) {
	sql := `select channels.id,
				   channels.name,
				   channels.created_at,
				   count(memberships.user_id)
			  from channels
			  left join memberships
				on memberships.channel_id = channels.id
			 group by channels.id
			 order by channels.created_at desc, channels.id desc`

	rows, err := s.db.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	channels := []ChannelSummary{}
	for rows.Next() {
		var (
			c     ChannelSummary
			count int64
		)
		if err = rows.Scan(&c.ID, &c.Name, &c.CreatedAt, &count); err != nil {
			return nil, err
		}
		c.MemberCount = int(count)
		channels = append(channels, c)
	}

	return channels, rows.Err()
}

func (s *Store) IsMember(ctx context.Context, user, channel int64) (bool, error) {
	var i int8
	sql := "select 1 from memberships where user_id = $1 and channel_id = $2"
	err := s.db.QueryRow(ctx, sql, user, channel).Scan(&i)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Store) CreateMembership(ctx context.Context, user, channel int64) error {
	sql := "insert into memberships (user_id, channel_id) values ($1, $2)"
	_, err := s.db.Exec(ctx, sql, user, channel)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case pgerrcode.UniqueViolation:
				return ErrMembershipExists
			case pgerrcode.ForeignKeyViolation:
				switch pgErr.ConstraintName {
				case "memberships_channel_id_fkey":
					return ErrChannelNotExist
				case "memberships_user_id_fkey":
					return ErrUserNotExist
				}
			}
		}
		return err
	}
	return nil
}

func (s *Store) DeleteMembership(ctx context.Context, user, channel int64) error {
	sql := "delete from memberships where user_id = $1 and channel_id = $2"
	_, err := s.db.Exec(ctx, sql, user, channel)
	return err
}

// CreateMessage inserts message guarded by membership existence in a single statement,
// so a concurrent leave can not let a non-member message through
func (s *Store) CreateMessage(ctx context.Context, channel, author int64, text string) (Message, error) {
	s.logger.Debugf("Creating message from user (id: %d) in channel (id: %d)", author, channel)

	sql := `with inserted as (
				insert into messages (channel_id, author_id, text)
				select $1::bigint, $2::bigint, $3::text
				 where exists (select 1 from memberships where channel_id = $1 and user_id = $2)
				returning id, channel_id, author_id, text, created_at
			)
			select inserted.id,
				   inserted.channel_id,
				   inserted.author_id,
				   inserted.text,
				   inserted.created_at,
				   users.name,
				   users.email
			  from inserted
			  join users
				on users.id = inserted.author_id`

	var m Message
	err := s.db.QueryRow(ctx, sql, channel, author, text).
		Scan(&m.ID, &m.ChannelID, &m.AuthorID, &m.Text, &m.CreatedAt, &m.Author.Name, &m.Author.Email)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return Message{}, err
		}
		if _, err = s.ChannelByID(ctx, channel); err != nil {
			return Message{}, err
		}
		return Message{}, ErrNotMember
	}
	m.Author.ID = m.AuthorID

	return m, nil
}

func (s *Store) MessagesBefore(ctx context.Context, channel, cursor int64, limit int) ([]Message, error) {
	s.logger.Debugf("Retrieving %d messages for channel (id: %d) before message (id: %d)", limit, channel, cursor)

	sql := `select messages.id,
				   messages.channel_id,
				   messages.author_id,
				   messages.text,
				   messages.created_at,
				   users.name,
				   users.email
			  from messages
			  join users
				on users.id = messages.author_id
			 where messages.channel_id = $1
			   and ($2::bigint = 0 or (messages.created_at, messages.id) < (
					select boundary.created_at, boundary.id
					  from messages boundary
					 where boundary.id = $2 and boundary.channel_id = $1))
			 order by messages.created_at desc, messages.id desc
			 limit $3`

	rows, err := s.db.Query(ctx, sql, channel, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]Message, 0, limit)
	for rows.Next() {
		var m Message
		err = rows.Scan(&m.ID, &m.ChannelID, &m.AuthorID, &m.Text, &m.CreatedAt, &m.Author.Name, &m.Author.Email)
		if err != nil {
			return nil, err
		}
		m.Author.ID = m.AuthorID
		messages = append(messages, m)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	s.logger.Debugf("Retrieved %d messages", len(messages))

	return messages, nil
}

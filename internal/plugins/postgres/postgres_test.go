package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"parley/internal/core/domain"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

// arrayConverter lets []int64 through to the mock the way pgx accepts it.
type arrayConverter struct{}

func (arrayConverter) ConvertValue(v any) (driver.Value, error) {
	if ids, ok := v.([]int64); ok {
		return ids, nil
	}
	return driver.DefaultParameterConverter.ConvertValue(v)
}

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.ValueConverterOption(arrayConverter{}))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

var messageRowColumns = []string{
	"id", "conversation_id", "sender_id", "content", "type", "media_url",
	"reply_to_id", "status", "created_at", "updated_at",
	"username", "avatar",
	"r_id", "r_content", "r_sender_id", "r_type",
}

func TestCreateMessageReturnsStoredRow(t *testing.T) {
	db, mock := newMock(t)
	repo := NewMessageRepo(db)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	replyTo := int64(7)

	mock.ExpectQuery(`INSERT INTO messages`).
		WithArgs(int64(42), int64(1), "hi", "text", nil, replyTo, "sent").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(100)))
	mock.ExpectQuery(`SELECT .* FROM messages m .* WHERE m.id = \$1`).
		WithArgs(int64(100)).
		WillReturnRows(sqlmock.NewRows(messageRowColumns).AddRow(
			int64(100), int64(42), int64(1), "hi", "text", nil,
			replyTo, "sent", now, now,
			"alice", "https://cdn/a.png",
			replyTo, "earlier", int64(2), "text",
		))

	m, err := repo.CreateMessage(context.Background(), &domain.NewMessage{
		ConversationID: 42,
		SenderID:       1,
		Content:        "hi",
		Type:           "text",
		ReplyToID:      &replyTo,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if m.ID != 100 || m.Status != domain.MessageSent {
		t.Fatalf("message = %+v", m)
	}
	if m.Sender == nil || m.Sender.Username != "alice" || m.Sender.Avatar == nil {
		t.Fatalf("sender = %+v", m.Sender)
	}
	if m.ReplyTo == nil || m.ReplyTo.ID != 7 || m.ReplyTo.SenderID != 2 {
		t.Fatalf("reply preview = %+v", m.ReplyTo)
	}
	if m.MediaURL != nil {
		t.Fatalf("media url should be nil, got %q", *m.MediaURL)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestCreateMessageRejectsInvalidConversation(t *testing.T) {
	db, _ := newMock(t)
	_, err := NewMessageRepo(db).CreateMessage(context.Background(), &domain.NewMessage{})
	if !errors.Is(err, domain.ErrConversationInvalid) {
		t.Fatalf("err = %v", err)
	}
}

func TestListMessagesWithCursor(t *testing.T) {
	db, mock := newMock(t)
	repo := NewMessageRepo(db)
	before := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(messageRowColumns)
	for i := int64(3); i >= 2; i-- {
		at := before.Add(-time.Duration(4-i) * time.Minute)
		rows.AddRow(i, int64(42), int64(1), "m", "text", nil, nil, "read", at, at, "alice", nil, nil, nil, nil, nil)
	}
	mock.ExpectQuery(`WHERE m.conversation_id = \$1 AND m.created_at < \$2`).
		WithArgs(int64(42), before, 2).
		WillReturnRows(rows)

	msgs, err := repo.ListMessages(context.Background(), 42, &before, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != 3 || msgs[1].ID != 2 {
		t.Fatalf("msgs = %+v", msgs)
	}
	if msgs[0].ReplyTo != nil {
		t.Fatal("unexpected reply preview")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestUpdateStatusSkipsEmptyIDs(t *testing.T) {
	db, mock := newMock(t)
	if err := NewMessageRepo(db).UpdateStatus(context.Background(), 42, nil, 1, domain.MessageRead); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestUpdateStatusAndListAuthors(t *testing.T) {
	db, mock := newMock(t)
	repo := NewMessageRepo(db)
	ids := []int64{10, 11}

	mock.ExpectExec(`UPDATE messages`).
		WithArgs(int64(42), sqlmock.AnyArg(), "read", int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery(`SELECT id, sender_id`).
		WithArgs(int64(42), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "sender_id"}).
			AddRow(int64(10), int64(1)).
			AddRow(int64(11), int64(2)))

	if err := repo.UpdateStatus(context.Background(), 42, ids, 5, domain.MessageRead); err != nil {
		t.Fatalf("update: %v", err)
	}
	authors, err := repo.ListAuthors(context.Background(), 42, ids)
	if err != nil {
		t.Fatalf("authors: %v", err)
	}
	if len(authors) != 2 || authors[1].SenderID != 2 {
		t.Fatalf("authors = %+v", authors)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestFindParticipant(t *testing.T) {
	db, mock := newMock(t)
	repo := NewParticipantRepo(db)

	mock.ExpectQuery(`FROM conversation_participants`).
		WithArgs(int64(42), int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"conversation_id", "user_id", "last_read_at"}).
			AddRow(int64(42), int64(1), nil))
	mock.ExpectQuery(`FROM conversation_participants`).
		WithArgs(int64(42), int64(9)).
		WillReturnError(sql.ErrNoRows)

	p, err := repo.FindParticipant(context.Background(), 42, 1)
	if err != nil || p == nil || p.UserID != 1 {
		t.Fatalf("participant = %+v, err = %v", p, err)
	}
	p, err = repo.FindParticipant(context.Background(), 42, 9)
	if err != nil || p != nil {
		t.Fatalf("non-participant should be nil, nil; got %+v, %v", p, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestUpdateLastReadForStranger(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectExec(`UPDATE conversation_participants`).
		WithArgs(int64(42), int64(9), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := NewParticipantRepo(db).UpdateLastRead(context.Background(), 42, 9, time.Now())
	if !errors.Is(err, domain.ErrNotParticipant) {
		t.Fatalf("err = %v", err)
	}
}

func TestCanContact(t *testing.T) {
	db, mock := newMock(t)
	repo := NewRelationshipRepo(db)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(int64(1), int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := repo.CanContact(context.Background(), 1, 2)
	if err != nil || !ok {
		t.Fatalf("can contact = %v, %v", ok, err)
	}
	if ok, _ := repo.CanContact(context.Background(), 3, 3); ok {
		t.Fatal("a user cannot call themselves")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestGetProfileNotFound(t *testing.T) {
	db, mock := newMock(t)
	mock.ExpectQuery(`SELECT username, avatar FROM users`).
		WithArgs(int64(5)).
		WillReturnError(sql.ErrNoRows)

	if _, err := NewUserRepository(db).GetProfile(context.Background(), 5); !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestTxManagerSharesTransactionWithRepos(t *testing.T) {
	db, mock := newMock(t)
	tm := NewTxManager(db)
	convs := NewConversationRepo(db)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE conversations SET last_message_at`).
		WithArgs(int64(42), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := tm.WithTx(context.Background(), func(ctx context.Context) error {
		return tm.WithTx(ctx, func(ctx context.Context) error {
			return convs.TouchLastMessageAt(ctx, 42, time.Now())
		})
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestTxManagerRollsBackOnError(t *testing.T) {
	db, mock := newMock(t)
	tm := NewTxManager(db)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectRollback()

	if err := tm.WithTx(context.Background(), func(context.Context) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

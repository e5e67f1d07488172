package main

import (
	"bytes"
	"chatgogo/messenger/internal/api/handler"
	"chatgogo/messenger/internal/chathub"
	"chatgogo/messenger/internal/models"
	"chatgogo/messenger/internal/storage"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testSecret = "cli-secret"

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func startServer(t *testing.T) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	s := storage.NewStorageService(db, nil)
	require.NoError(t, s.Migrate())
	hub := chathub.NewManagerService(s)
	go hub.Run()

	h := handler.NewHandler(hub, s, handler.NewAuthenticator(testSecret, time.Hour), t.TempDir())
	r := gin.New()
	h.Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		hub.Stop()
		sqlDB.Close()
	})
	return srv.URL
}

func TestRootCmd_Help(t *testing.T) {
	out, err := runCLI(t, "--help")
	require.NoError(t, err)
	for _, sub := range []string{"token", "room-key", "history", "send", "watch", "edit", "delete", "mark-best", "unmark-best"} {
		assert.Contains(t, out, sub)
	}
}

func TestVersionCmd(t *testing.T) {
	out, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "chatcli dev")
}

func TestRoomKeyCmd(t *testing.T) {
	out, err := runCLI(t, "room-key", "EMP-021", "EMP-010")
	require.NoError(t, err)
	assert.Equal(t, "EMP-010_EMP-021\n", out)

	_, err = runCLI(t, "room-key", "EMP-010", "EMP-010")
	assert.Error(t, err)
}

func TestTokenCmd(t *testing.T) {
	out, err := runCLI(t, "token", "mia", "--secret", testSecret, "--token-role", "moderator", "--ttl", "1h")
	require.NoError(t, err)

	p, err := handler.NewAuthenticator(testSecret, time.Hour).Validate(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "mia", p.ID)
	assert.Equal(t, models.RoleModerator, p.Role)
}

func TestTargetFlagsRequired(t *testing.T) {
	_, err := runCLI(t, "history", "--as", "alice")
	assert.Error(t, err)

	_, err = runCLI(t, "history", "--as", "alice", "--peer", "bob", "--thread", "T1")
	assert.Error(t, err)
}

func TestSendAndHistoryAgainstServer(t *testing.T) {
	baseURL := startServer(t)
	aliceTok, err := handler.NewAuthenticator(testSecret, time.Hour).IssueToken(models.Participant{ID: "alice"})
	require.NoError(t, err)
	bobTok, err := handler.NewAuthenticator(testSecret, time.Hour).IssueToken(models.Participant{ID: "bob"})
	require.NoError(t, err)

	out, err := runCLI(t, "send", "--base-url", baseURL, "--token", aliceTok, "--as", "alice", "--peer", "bob", "Hello", "Bob")
	require.NoError(t, err)
	assert.Contains(t, out, "Sent message 1 to room:alice_bob")

	notes := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(notes, []byte("agenda"), 0o644))
	_, err = runCLI(t, "send", "--base-url", baseURL, "--token", aliceTok, "--as", "alice", "--peer", "bob", "--file", notes)
	require.NoError(t, err)

	out, err = runCLI(t, "history", "--base-url", baseURL, "--token", bobTok, "--as", "bob", "--peer", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "Hello Bob")
	assert.Contains(t, out, "[file: notes.txt")
	assert.Contains(t, out, "FILE")

	out, err = runCLI(t, "delete", "1", "--base-url", baseURL, "--token", bobTok, "--as", "bob", "--peer", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted message 1")

	out, err = runCLI(t, "history", "--base-url", baseURL, "--token", bobTok, "--as", "bob", "--peer", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "(deleted)")
	assert.NotContains(t, out, "Hello Bob")
}

func TestThreadCommandsAgainstServer(t *testing.T) {
	baseURL := startServer(t)
	auth := handler.NewAuthenticator(testSecret, time.Hour)
	aliceTok, err := auth.IssueToken(models.Participant{ID: "alice"})
	require.NoError(t, err)
	bobTok, err := auth.IssueToken(models.Participant{ID: "bob"})
	require.NoError(t, err)
	common := func(tok, who string) []string {
		return []string{"--base-url", baseURL, "--token", tok, "--as", who}
	}

	out, err := runCLI(t, append([]string{"send", "--new-thread", "Which", "release?"}, common(aliceTok, "alice")...)...)
	require.NoError(t, err)
	require.Contains(t, out, "Started thread ")
	threadID := strings.Fields(strings.SplitN(out, "Started thread ", 2)[1])[0]

	_, err = runCLI(t, append([]string{"send", "--thread", threadID, "v2"}, common(bobTok, "bob")...)...)
	require.NoError(t, err)

	out, err = runCLI(t, append([]string{"mark-best", "2", "--thread", threadID}, common(aliceTok, "alice")...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "best reply")

	_, err = runCLI(t, append([]string{"edit", "1", "changed", "--thread", threadID}, common(aliceTok, "alice")...)...)
	assert.Error(t, err, "root is locked once replied")

	_, err = runCLI(t, append([]string{"unmark-best", "2", "--thread", threadID}, common(aliceTok, "alice")...)...)
	require.NoError(t, err)
}

func TestUnauthorizedExitCode(t *testing.T) {
	baseURL := startServer(t)
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"history", "--base-url", baseURL, "--token", "expired", "--as", "alice", "--peer", "bob"})

	assert.Equal(t, 1, execute(cmd))
	assert.Contains(t, buf.String(), "session expired")
}

func TestFormatLine(t *testing.T) {
	m := models.Message{
		ID:          7,
		SenderID:    "bob",
		Content:     "two\nlines",
		Kind:        models.KindImage,
		Attachment:  &models.Attachment{FileName: "cat.png", FileURL: "/files/x/cat.png"},
		CreatedAt:   time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC),
		IsBestReply: true,
	}

	assert.Equal(t, "#7 2024-05-01 09:30 bob: two lines [image: cat.png /files/x/cat.png] ★ best reply", formatLine(m))
	assert.Equal(t, "#7 2024-05-01 09:30 bob: (deleted)", formatLine(m.Tombstone()))
}

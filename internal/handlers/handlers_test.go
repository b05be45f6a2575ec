package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/duetapp/duet/internal/middleware"
	"github.com/duetapp/duet/internal/models"
	"github.com/duetapp/duet/pkg/response"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testRequestContext() context.Context {
	return context.Background()
}

func openHandlerTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.PairingCredential{},
		&models.CheckIn{},
		&models.Goal{},
		&models.Conflict{},
		&models.Notification{},
	))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	return db
}

func createHandlerTestUser(t *testing.T, db *gorm.DB, email string) *models.User {
	t.Helper()

	user := &models.User{
		Email:       email,
		Password:    "not-a-real-hash",
		DisplayName: email,
		IsActive:    true,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

// testRequest builds an authenticated gin context carrying an optional JSON body.
func testRequest(t *testing.T, userID string, body any) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()

	recorder := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(recorder)

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	c.Request = httptest.NewRequest(http.MethodPost, "/", &buf)
	c.Request.Header.Set("Content-Type", "application/json")

	if userID != "" {
		c.Set(middleware.CtxUserIDKey, userID)
	}
	return c, recorder
}

func decodeResponse(t *testing.T, recorder *httptest.ResponseRecorder) response.Response {
	t.Helper()

	var payload response.Response
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &payload))
	return payload
}

func dataField(t *testing.T, payload response.Response, key string) json.RawMessage {
	t.Helper()

	raw, err := json.Marshal(payload.Data)
	require.NoError(t, err)

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &fields))
	return fields[key]
}

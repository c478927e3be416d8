package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/floworx-io/floworx/services"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHistoryHandler(t *testing.T) (*HistoryHandler, sqlmock.Sqlmock) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	pg, mockDB, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { pg.Close() })

	return NewHistoryHandler(services.NewHistoryService(pg)), mockDB
}

func TestHistoryHandler_RecordInbound(t *testing.T) {
	t.Run("Created", func(t *testing.T) {
		handler, mockDB := newTestHistoryHandler(t)

		mockDB.ExpectExec("INSERT INTO email_logs").
			WillReturnResult(sqlmock.NewResult(0, 1))

		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = jsonRequest("POST", "/api/v1/history/emails",
			`{"id":"e1","from":"tenant@example.com","subject":"heater"}`)
		c.Set("user_id", "user-1")

		handler.RecordInbound(c)

		assert.Equal(t, http.StatusCreated, w.Code)
		assert.NoError(t, mockDB.ExpectationsWereMet())
	})

	t.Run("MissingID", func(t *testing.T) {
		handler, mockDB := newTestHistoryHandler(t)

		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = jsonRequest("POST", "/api/v1/history/emails", `{"from":"tenant@example.com"}`)
		c.Set("user_id", "user-1")

		handler.RecordInbound(c)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.NoError(t, mockDB.ExpectationsWereMet())
	})
}

func TestHistoryHandler_MarkResponded(t *testing.T) {
	handler, mockDB := newTestHistoryHandler(t)

	mockDB.ExpectExec("UPDATE email_logs").
		WithArgs(sqlmock.AnyArg(), "e1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("POST", "/api/v1/history/emails/e1/responded", nil)
	c.Set("user_id", "user-1")
	c.Params = []gin.Param{{Key: "id", Value: "e1"}}

	handler.MarkResponded(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NoError(t, mockDB.ExpectationsWereMet())
}

package creatives

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	gsessions "github.com/gorilla/sessions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockSessionStore struct {
	gsessions.Store
	mock.Mock
}

func (m *mockSessionStore) Options(sessions.Options) {}

func (m *mockSessionStore) Get(r *http.Request, name string) (*gsessions.Session, error) {
	args := m.Called(r, name)
	if s := args.Get(0); s != nil {
		return s.(*gsessions.Session), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSessionStore) New(r *http.Request, name string) (*gsessions.Session, error) {
	args := m.Called(r, name)
	return args.Get(0).(*gsessions.Session), args.Error(1)
}

func (m *mockSessionStore) Save(r *http.Request, w http.ResponseWriter, s *gsessions.Session) error {
	return m.Called(r, w, s).Error(0)
}

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name       string
		setupMock  func(*mockSessionStore)
		wantStatus int
	}{
		{
			name: "username in session",
			setupMock: func(m *mockSessionStore) {
				session := gsessions.NewSession(m, sessionVarName)
				session.Values[sessionVarField] = testAdminUsername
				m.On("Get", mock.Anything, sessionVarName).Return(session, nil)
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "no username",
			setupMock: func(m *mockSessionStore) {
				session := gsessions.NewSession(m, sessionVarName)
				m.On("Get", mock.Anything, sessionVarName).Return(session, nil)
			},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "non-string username",
			setupMock: func(m *mockSessionStore) {
				session := gsessions.NewSession(m, sessionVarName)
				session.Values[sessionVarField] = 123
				m.On("Get", mock.Anything, sessionVarName).Return(session, nil)
			},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "store error",
			setupMock: func(m *mockSessionStore) {
				m.On("Get", mock.Anything, sessionVarName).
					Return(nil, errors.New("securecookie: the value is not valid"))
			},
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(
			tt.name, func(t *testing.T) {
				store := &mockSessionStore{}
				tt.setupMock(store)

				r := gin.New()
				r.GET(
					"/protected", authMiddleware(store), func(c *gin.Context) {
						c.Status(http.StatusOK)
					},
				)
				w := httptest.NewRecorder()
				r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/protected", nil))

				assert.Equal(t, tt.wantStatus, w.Code)
				store.AssertExpectations(t)
			},
		)
	}
}

package factory

import (
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/mcoot/scoreroom/internal/dependencies/mocks"
	"github.com/mcoot/scoreroom/internal/storage"
	"github.com/mcoot/scoreroom/internal/storage/memory"
	"github.com/mcoot/scoreroom/internal/testutil"
)

// TestOrigin is the only browser origin test apps accept
const TestOrigin = "http://scoreroom.test"

// TestApp extends App with test-specific helpers
type TestApp struct {
	*App

	// Mocks for test control
	MockClock  *mocks.MockClock
	MockRandom *mocks.MockRandom
}

// TestConfig is the configuration test apps are built with
func TestConfig() Config {
	return Config{
		TokenSecret:    "test-secret",
		AllowedOrigins: []string{TestOrigin},
		BcryptCost:     bcrypt.MinCost,
	}
}

// NewTestApp creates an in-memory App configured for testing with mocked dependencies
func NewTestApp() *TestApp {
	mockClock := mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	return NewTestAppWithStorage(memory.New(mockClock, memory.DefaultConfig()), mockClock, TestConfig())
}

// NewTestAppWithStorage wires a test App around an existing store. The store
// should share mockClock so expiry follows the test's notion of time.
func NewTestAppWithStorage(store storage.Storage, mockClock *mocks.MockClock, cfg Config) *TestApp {
	mockRandom := mocks.NewMockRandom()

	app, err := newWithDependencies(cfg, store, mockClock, mockRandom, testutil.NopLogger())
	if err != nil {
		panic(err)
	}

	return &TestApp{
		App:        app,
		MockClock:  mockClock,
		MockRandom: mockRandom,
	}
}

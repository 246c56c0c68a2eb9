package inmemdb

import (
	"sync"
	"time"

	"github.com/MrXof/ElectiveFlow/core/elective"
	"github.com/MrXof/ElectiveFlow/core/news"
	"github.com/MrXof/ElectiveFlow/core/user"
)

type dailyKey struct {
	offeringID string
	day        time.Time
}

// DB is an in-memory store for every repository of this package.
// Offerings and their registrations share one lock so cascades and counters stay consistent.
type DB struct {
	userMu sync.RWMutex
	users  map[string]*user.User

	electiveMu    sync.RWMutex
	offerings     map[string]*elective.Offering
	registrations map[string]*elective.Registration

	dailyMu sync.RWMutex
	daily   map[dailyKey]int

	newsMu sync.RWMutex
	news   map[string]*news.News
}

func NewDB() *DB {
	return &DB{
		users:         make(map[string]*user.User),
		offerings:     make(map[string]*elective.Offering),
		registrations: make(map[string]*elective.Registration),
		daily:         make(map[dailyKey]int),
		news:          make(map[string]*news.News),
	}
}

// Reset empties every table.
func (db *DB) Reset() {
	db.userMu.Lock()
	db.users = make(map[string]*user.User)
	db.userMu.Unlock()

	db.electiveMu.Lock()
	db.offerings = make(map[string]*elective.Offering)
	db.registrations = make(map[string]*elective.Registration)
	db.electiveMu.Unlock()

	db.dailyMu.Lock()
	db.daily = make(map[dailyKey]int)
	db.dailyMu.Unlock()

	db.newsMu.Lock()
	db.news = make(map[string]*news.News)
	db.newsMu.Unlock()
}

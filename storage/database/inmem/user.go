package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/MrXof/ElectiveFlow/core"
	"github.com/MrXof/ElectiveFlow/core/user"
)

type userRepository struct {
	db *DB
}

var _ user.Repository = (*userRepository)(nil)

func NewUserRepository(db *DB) *userRepository {
	return &userRepository{db: db}
}

func cloneUser(usr user.User) user.User {
	usr.Roles = append([]string(nil), usr.Roles...)
	usr.Interests = append([]string(nil), usr.Interests...)
	usr.PasswordHash = append([]byte(nil), usr.PasswordHash...)
	return usr
}

func isExcluded(usr user.User, excludedUsers []user.User) bool {
	for _, excl := range excludedUsers {
		if excl.ID == usr.ID {
			return true
		}
	}
	return false
}

func (repo *userRepository) CheckEmailUniqueness(_ context.Context, email string, excludedUsers ...user.User) error {
	repo.db.userMu.RLock()
	defer repo.db.userMu.RUnlock()

	for _, usr := range repo.db.users {
		if usr.Email == email && !isExcluded(*usr, excludedUsers) {
			return user.ErrEmailExists
		}
	}
	return nil
}

func (repo *userRepository) CreateUser(_ context.Context, usr user.User) (user.User, error) {
	repo.db.userMu.Lock()
	defer repo.db.userMu.Unlock()

	usr.ID = uuid.New().String()
	stored := cloneUser(usr)
	repo.db.users[usr.ID] = &stored
	return usr, nil
}

func (repo *userRepository) QueryUsers(_ context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	repo.db.userMu.RLock()
	defer repo.db.userMu.RUnlock()

	users := make([]user.User, 0, len(repo.db.users))
	for _, usr := range repo.db.users {
		if filter.Match(*usr) {
			users = append(users, cloneUser(*usr))
		}
	}
	sortUsers(users, core.FilterOrderings(ordering, "name", "email", "created_at"))
	return users, nil
}

// sortUsers sorts by `ordering` then by creation time.
func sortUsers(users []user.User, ordering []core.DBOrdering) {
	sort.SliceStable(users, func(i, j int) bool {
		a, b := users[i], users[j]
		for _, ord := range ordering {
			var cmp int
			switch ord.Field {
			case "name":
				cmp = strings.Compare(a.Name, b.Name)
			case "email":
				cmp = strings.Compare(a.Email, b.Email)
			case "created_at":
				cmp = a.CreatedAt.Compare(b.CreatedAt)
			}
			if cmp != 0 {
				return (cmp < 0) == ord.Ascending
			}
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

func (repo *userRepository) GetUserByID(_ context.Context, id string) (user.User, error) {
	repo.db.userMu.RLock()
	defer repo.db.userMu.RUnlock()

	if usr, ok := repo.db.users[id]; ok {
		return cloneUser(*usr), nil
	}
	return user.User{}, user.ErrNotFound
}

func (repo *userRepository) GetUserByEmail(_ context.Context, email string) (user.User, error) {
	repo.db.userMu.RLock()
	defer repo.db.userMu.RUnlock()

	for _, usr := range repo.db.users {
		if usr.Email == email {
			return cloneUser(*usr), nil
		}
	}
	return user.User{}, user.ErrNotFound
}

func (repo *userRepository) UpdateUser(_ context.Context, usr user.User) (user.User, error) {
	repo.db.userMu.Lock()
	defer repo.db.userMu.Unlock()

	if _, ok := repo.db.users[usr.ID]; !ok {
		return user.User{}, user.ErrNotFound
	}
	stored := cloneUser(usr)
	repo.db.users[usr.ID] = &stored
	return usr, nil
}

func (repo *userRepository) DeleteUsersByID(_ context.Context, ids ...string) error {
	repo.db.userMu.Lock()
	defer repo.db.userMu.Unlock()

	for _, id := range ids {
		delete(repo.db.users, id)
	}
	return nil
}

package mongorepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/MrXof/ElectiveFlow/core"
	"github.com/MrXof/ElectiveFlow/core/user"
)

var userOrderings = []string{"name", "email", "created_at", "last_login"}

type userDoc struct {
	ID           string    `bson:"_id"`
	Name         string    `bson:"name"`
	Email        string    `bson:"email"`
	IsActive     bool      `bson:"is_active"`
	Roles        []string  `bson:"roles"`
	Interests    []string  `bson:"interests"`
	PasswordHash []byte    `bson:"password_hash"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
	LastLogin    time.Time `bson:"last_login,omitempty"`
}

func toUserDoc(usr user.User) userDoc {
	return userDoc{
		ID:           usr.ID,
		Name:         usr.Name,
		Email:        usr.Email,
		IsActive:     usr.IsActive,
		Roles:        nonNil(usr.Roles),
		Interests:    nonNil(usr.Interests),
		PasswordHash: usr.PasswordHash,
		CreatedAt:    usr.CreatedAt.UTC(),
		UpdatedAt:    usr.UpdatedAt.UTC(),
		LastLogin:    usr.LastLogin.UTC(),
	}
}

func (d userDoc) toUser() user.User {
	usr := user.User{
		ID:           d.ID,
		Name:         d.Name,
		Email:        d.Email,
		IsActive:     d.IsActive,
		Roles:        d.Roles,
		Interests:    d.Interests,
		PasswordHash: d.PasswordHash,
		CreatedAt:    d.CreatedAt.UTC(),
		UpdatedAt:    d.UpdatedAt.UTC(),
	}
	if !d.LastLogin.IsZero() {
		usr.LastLogin = d.LastLogin.UTC()
	}
	return usr
}

type userRepository struct {
	coll *mongo.Collection
}

var _ user.Repository = (*userRepository)(nil)

func NewUserRepository(db *mongo.Database) *userRepository {
	return &userRepository{coll: db.Collection(usersColl)}
}

// userFilter translates a QueryFilter into a mongo filter document.
func userFilter(filter *user.QueryFilter) bson.M {
	doc := bson.M{}
	if filter.IsEmpty() {
		return doc
	}
	if filter.Search != "" {
		doc["$or"] = bson.A{
			bson.M{"name": containsCI(filter.Search)},
			bson.M{"email": containsCI(filter.Search)},
		}
	}
	if len(filter.Roles) > 0 {
		doc["roles"] = bson.M{"$in": filter.Roles}
	}
	if filter.IsActive != nil {
		doc["is_active"] = *filter.IsActive
	}
	created := bson.M{}
	if !filter.CreatedFrom.IsZero() {
		created["$gte"] = filter.CreatedFrom.UTC()
	}
	if !filter.CreatedTo.IsZero() {
		created["$lte"] = filter.CreatedTo.UTC()
	}
	if len(created) > 0 {
		doc["created_at"] = created
	}
	return doc
}

func userSort(ordering []core.DBOrdering) bson.D {
	sort := bson.D{}
	for _, ord := range core.FilterOrderings(ordering, userOrderings...) {
		dir := -1
		if ord.Ascending {
			dir = 1
		}
		sort = append(sort, bson.E{Key: ord.Field, Value: dir})
	}
	return append(sort, bson.E{Key: "created_at", Value: 1})
}

func (repo *userRepository) CheckEmailUniqueness(ctx context.Context, email string, excludedUsers ...user.User) error {
	filter := bson.M{"email": email}
	if len(excludedUsers) > 0 {
		ids := make([]string, 0, len(excludedUsers))
		for _, u := range excludedUsers {
			ids = append(ids, u.ID)
		}
		filter["_id"] = bson.M{"$nin": ids}
	}
	n, err := repo.coll.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return errors.Wrap(err, "checking email uniqueness")
	}
	if n > 0 {
		return user.ErrEmailExists
	}
	return nil
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	usr.ID = uuid.New().String()
	if _, err := repo.coll.InsertOne(ctx, toUserDoc(usr)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return user.User{}, user.ErrEmailExists
		}
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return usr, nil
}

func (repo *userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	cursor, err := repo.coll.Find(ctx, userFilter(filter), options.Find().SetSort(userSort(ordering)))
	if err != nil {
		return nil, errors.Wrap(err, "finding users")
	}
	defer func() { _ = cursor.Close(ctx) }()

	var docs []userDoc
	if err = cursor.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "decoding users")
	}
	users := make([]user.User, 0, len(docs))
	for _, d := range docs {
		users = append(users, d.toUser())
	}
	return users, nil
}

func (repo *userRepository) getOne(ctx context.Context, filter bson.M) (user.User, error) {
	var d userDoc
	if err := repo.coll.FindOne(ctx, filter).Decode(&d); err != nil {
		if err == mongo.ErrNoDocuments {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, errors.Wrap(err, "finding user")
	}
	return d.toUser(), nil
}

func (repo *userRepository) GetUserByID(ctx context.Context, id string) (user.User, error) {
	return repo.getOne(ctx, bson.M{"_id": id})
}

func (repo *userRepository) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	return repo.getOne(ctx, bson.M{"email": email})
}

func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	res, err := repo.coll.ReplaceOne(ctx, bson.M{"_id": usr.ID}, toUserDoc(usr))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return user.User{}, user.ErrEmailExists
		}
		return user.User{}, errors.Wrap(err, "replacing user")
	}
	if res.MatchedCount == 0 {
		return user.User{}, user.ErrNotFound
	}
	return usr, nil
}

func (repo *userRepository) DeleteUsersByID(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := repo.coll.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	return errors.Wrap(err, "deleting users")
}

package mongorepos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/MrXof/ElectiveFlow/core/elective"
)

type offeringDoc struct {
	ID                string    `bson:"_id"`
	Name              string    `bson:"name"`
	Description       string    `bson:"description"`
	Period            string    `bson:"period"`
	TeacherID         string    `bson:"teacher_id"`
	TeacherName       string    `bson:"teacher_name"`
	Capacity          int       `bson:"capacity"`
	Enrolled          int       `bson:"enrolled"`
	Categories        []string  `bson:"categories"`
	ImageURL          string    `bson:"image_url"`
	Policy            string    `bson:"policy"`
	NumberOfGroups    *int      `bson:"number_of_groups"`
	RegistrationStart time.Time `bson:"registration_start"`
	RegistrationEnd   time.Time `bson:"registration_end"`
	CreatedAt         time.Time `bson:"created_at"`
	UpdatedAt         time.Time `bson:"updated_at"`
}

func toOfferingDoc(off elective.Offering) offeringDoc {
	return offeringDoc{
		ID:                off.ID,
		Name:              off.Name,
		Description:       off.Description,
		Period:            off.Period,
		TeacherID:         off.TeacherID,
		TeacherName:       off.TeacherName,
		Capacity:          off.Capacity,
		Enrolled:          off.Enrolled,
		Categories:        nonNil(off.Categories),
		ImageURL:          off.ImageURL,
		Policy:            string(off.Policy),
		NumberOfGroups:    off.NumberOfGroups,
		RegistrationStart: off.RegistrationStart.UTC(),
		RegistrationEnd:   off.RegistrationEnd.UTC(),
		CreatedAt:         off.CreatedAt.UTC(),
		UpdatedAt:         off.UpdatedAt.UTC(),
	}
}

func (d offeringDoc) toOffering() elective.Offering {
	return elective.Offering{
		ID:                d.ID,
		Name:              d.Name,
		Description:       d.Description,
		Period:            d.Period,
		TeacherID:         d.TeacherID,
		TeacherName:       d.TeacherName,
		Capacity:          d.Capacity,
		Enrolled:          d.Enrolled,
		Categories:        d.Categories,
		ImageURL:          d.ImageURL,
		Policy:            elective.Policy(d.Policy),
		NumberOfGroups:    d.NumberOfGroups,
		RegistrationStart: d.RegistrationStart.UTC(),
		RegistrationEnd:   d.RegistrationEnd.UTC(),
		CreatedAt:         d.CreatedAt.UTC(),
		UpdatedAt:         d.UpdatedAt.UTC(),
	}
}

type registrationDoc struct {
	ID           string    `bson:"_id"`
	OfferingID   string    `bson:"offering_id"`
	StudentID    string    `bson:"student_id"`
	StudentName  string    `bson:"student_name"`
	RegisteredAt time.Time `bson:"registered_at"`
	Priority     *int      `bson:"priority"`
	Group        *int      `bson:"group"`
	Status       string    `bson:"status"`
}

func toRegistrationDoc(reg elective.Registration) registrationDoc {
	return registrationDoc{
		ID:           reg.ID,
		OfferingID:   reg.OfferingID,
		StudentID:    reg.StudentID,
		StudentName:  reg.StudentName,
		RegisteredAt: reg.RegisteredAt.UTC(),
		Priority:     reg.Priority,
		Group:        reg.Group,
		Status:       string(reg.Status),
	}
}

func (d registrationDoc) toRegistration() elective.Registration {
	return elective.Registration{
		ID:           d.ID,
		OfferingID:   d.OfferingID,
		StudentID:    d.StudentID,
		StudentName:  d.StudentName,
		RegisteredAt: d.RegisteredAt.UTC(),
		Priority:     d.Priority,
		Group:        d.Group,
		Status:       elective.Status(d.Status),
	}
}

type electiveRepository struct {
	offerings     *mongo.Collection
	registrations *mongo.Collection
	daily         *mongo.Collection
}

var _ elective.Repository = (*electiveRepository)(nil)

func NewElectiveRepository(db *mongo.Database) *electiveRepository {
	return &electiveRepository{
		offerings:     db.Collection(offeringsColl),
		registrations: db.Collection(registrationsColl),
		daily:         db.Collection(dailyColl),
	}
}

// offeringFilter translates an OfferingFilter into a mongo filter document.
func offeringFilter(filter *elective.OfferingFilter) bson.M {
	doc := bson.M{}
	if filter == nil {
		return doc
	}
	if filter.TeacherID != "" {
		doc["teacher_id"] = filter.TeacherID
	}
	if filter.Policy != "" {
		doc["policy"] = string(filter.Policy)
	}
	if filter.Category != "" {
		doc["categories"] = equalsCI(filter.Category)
	}
	if filter.Search != "" {
		doc["$or"] = bson.A{
			bson.M{"name": containsCI(filter.Search)},
			bson.M{"description": containsCI(filter.Search)},
		}
	}
	if !filter.OpenAt.IsZero() {
		at := filter.OpenAt.UTC()
		doc["registration_start"] = bson.M{"$lte": at}
		doc["registration_end"] = bson.M{"$gte": at}
	}
	return doc
}

func registrationFilter(filter elective.RegistrationFilter) bson.M {
	doc := bson.M{}
	if filter.OfferingID != "" {
		doc["offering_id"] = filter.OfferingID
	}
	if filter.StudentID != "" {
		doc["student_id"] = filter.StudentID
	}
	if filter.Status != "" {
		doc["status"] = string(filter.Status)
	}
	return doc
}

// enrolledUpdate adds delta to the enrolled count without letting it drop below 0.
func enrolledUpdate(delta int, at time.Time) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "enrolled", Value: bson.D{{Key: "$max", Value: bson.A{
				0, bson.D{{Key: "$add", Value: bson.A{"$enrolled", delta}}},
			}}}},
			{Key: "updated_at", Value: at},
		}}},
	}
}

// seatFilter matches the Offering only while it has a free seat.
func seatFilter(id string) bson.M {
	return bson.M{
		"_id":   id,
		"$expr": bson.M{"$lt": bson.A{"$enrolled", "$capacity"}},
	}
}

// Offerings

func (repo *electiveRepository) CreateOffering(ctx context.Context, off elective.Offering) (elective.Offering, error) {
	off.ID = uuid.New().String()
	off.Enrolled = 0
	if _, err := repo.offerings.InsertOne(ctx, toOfferingDoc(off)); err != nil {
		return elective.Offering{}, errors.Wrap(err, "inserting offering")
	}
	return off, nil
}

func (repo *electiveRepository) QueryOfferings(ctx context.Context, filter *elective.OfferingFilter) ([]elective.Offering, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := repo.offerings.Find(ctx, offeringFilter(filter), opts)
	if err != nil {
		return nil, errors.Wrap(err, "finding offerings")
	}
	defer func() { _ = cursor.Close(ctx) }()

	var docs []offeringDoc
	if err = cursor.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "decoding offerings")
	}
	offs := make([]elective.Offering, 0, len(docs))
	for _, d := range docs {
		offs = append(offs, d.toOffering())
	}
	return offs, nil
}

func (repo *electiveRepository) GetOffering(ctx context.Context, id string) (elective.Offering, error) {
	var d offeringDoc
	if err := repo.offerings.FindOne(ctx, bson.M{"_id": id}).Decode(&d); err != nil {
		if err == mongo.ErrNoDocuments {
			return elective.Offering{}, elective.ErrNotFound
		}
		return elective.Offering{}, errors.Wrap(err, "finding offering")
	}
	return d.toOffering(), nil
}

func (repo *electiveRepository) UpdateOffering(ctx context.Context, off elective.Offering) (elective.Offering, error) {
	d := toOfferingDoc(off)
	update := bson.M{"$set": bson.M{
		"name":               d.Name,
		"description":        d.Description,
		"period":             d.Period,
		"teacher_id":         d.TeacherID,
		"teacher_name":       d.TeacherName,
		"capacity":           d.Capacity,
		"categories":         d.Categories,
		"image_url":          d.ImageURL,
		"policy":             d.Policy,
		"number_of_groups":   d.NumberOfGroups,
		"registration_start": d.RegistrationStart,
		"registration_end":   d.RegistrationEnd,
		"updated_at":         d.UpdatedAt,
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var updated offeringDoc
	if err := repo.offerings.FindOneAndUpdate(ctx, bson.M{"_id": off.ID}, update, opts).Decode(&updated); err != nil {
		if err == mongo.ErrNoDocuments {
			return elective.Offering{}, elective.ErrNotFound
		}
		return elective.Offering{}, errors.Wrap(err, "updating offering")
	}
	return updated.toOffering(), nil
}

func (repo *electiveRepository) DeleteOffering(ctx context.Context, id string) error {
	res, err := repo.offerings.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return errors.Wrap(err, "deleting offering")
	}
	if res.DeletedCount == 0 {
		return elective.ErrNotFound
	}
	if _, err = repo.registrations.DeleteMany(ctx, bson.M{"offering_id": id}); err != nil {
		return errors.Wrap(err, "deleting registrations")
	}
	_, err = repo.daily.DeleteMany(ctx, bson.M{"offering_id": id})
	return errors.Wrap(err, "deleting daily registrations")
}

func (repo *electiveRepository) IncrementEnrolled(ctx context.Context, id string, delta int) error {
	res, err := repo.offerings.UpdateOne(ctx, bson.M{"_id": id}, enrolledUpdate(delta, time.Now().UTC()))
	if err != nil {
		return errors.Wrap(err, "updating enrolled count")
	}
	if res.MatchedCount == 0 {
		return elective.ErrNotFound
	}
	return nil
}

func (repo *electiveRepository) ReserveSeat(ctx context.Context, id string) (bool, error) {
	update := bson.M{
		"$inc": bson.M{"enrolled": 1},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	}
	res, err := repo.offerings.UpdateOne(ctx, seatFilter(id), update)
	if err != nil {
		return false, errors.Wrap(err, "reserving seat")
	}
	if res.MatchedCount > 0 {
		return true, nil
	}

	n, err := repo.offerings.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return false, errors.Wrap(err, "checking offering")
	}
	if n == 0 {
		return false, elective.ErrNotFound
	}
	return false, nil
}

// Registrations

func (repo *electiveRepository) CreateRegistration(ctx context.Context, reg elective.Registration) (elective.Registration, error) {
	n, err := repo.offerings.CountDocuments(ctx, bson.M{"_id": reg.OfferingID}, options.Count().SetLimit(1))
	if err != nil {
		return elective.Registration{}, errors.Wrap(err, "checking offering")
	}
	if n == 0 {
		return elective.Registration{}, elective.ErrNotFound
	}

	reg.ID = uuid.New().String()
	if _, err = repo.registrations.InsertOne(ctx, toRegistrationDoc(reg)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return elective.Registration{}, elective.ErrAlreadyRegistered
		}
		return elective.Registration{}, errors.Wrap(err, "inserting registration")
	}
	return reg, nil
}

func (repo *electiveRepository) QueryRegistrations(ctx context.Context, filter elective.RegistrationFilter) ([]elective.Registration, error) {
	opts := options.Find().SetSort(bson.D{{Key: "registered_at", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := repo.registrations.Find(ctx, registrationFilter(filter), opts)
	if err != nil {
		return nil, errors.Wrap(err, "finding registrations")
	}
	defer func() { _ = cursor.Close(ctx) }()

	var docs []registrationDoc
	if err = cursor.All(ctx, &docs); err != nil {
		return nil, errors.Wrap(err, "decoding registrations")
	}
	regs := make([]elective.Registration, 0, len(docs))
	for _, d := range docs {
		regs = append(regs, d.toRegistration())
	}
	return regs, nil
}

func (repo *electiveRepository) GetRegistration(ctx context.Context, id string) (elective.Registration, error) {
	var d registrationDoc
	if err := repo.registrations.FindOne(ctx, bson.M{"_id": id}).Decode(&d); err != nil {
		if err == mongo.ErrNoDocuments {
			return elective.Registration{}, elective.ErrRegistrationNotFound
		}
		return elective.Registration{}, errors.Wrap(err, "finding registration")
	}
	return d.toRegistration(), nil
}

// UpdateRegistrations saves the group & status of every registration in one ordered bulk write.
// Unknown registrations are detected beforehand so that nothing is written.
func (repo *electiveRepository) UpdateRegistrations(ctx context.Context, regs ...elective.Registration) error {
	if len(regs) == 0 {
		return nil
	}
	ids := make(map[string]struct{}, len(regs))
	models := make([]mongo.WriteModel, 0, len(regs))
	for _, reg := range regs {
		ids[reg.ID] = struct{}{}
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": reg.ID}).
			SetUpdate(bson.M{"$set": bson.M{"group": reg.Group, "status": string(reg.Status)}}))
	}
	idList := make([]string, 0, len(ids))
	for id := range ids {
		idList = append(idList, id)
	}

	n, err := repo.registrations.CountDocuments(ctx, bson.M{"_id": bson.M{"$in": idList}})
	if err != nil {
		return errors.Wrap(err, "checking registrations")
	}
	if int(n) != len(idList) {
		return elective.ErrRegistrationNotFound
	}

	_, err = repo.registrations.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(true))
	return errors.Wrap(err, "updating registrations")
}

func (repo *electiveRepository) DeleteRegistration(ctx context.Context, id string) error {
	res, err := repo.registrations.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return errors.Wrap(err, "deleting registration")
	}
	if res.DeletedCount == 0 {
		return elective.ErrRegistrationNotFound
	}
	return nil
}

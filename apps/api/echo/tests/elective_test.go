package tests

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrXof/ElectiveFlow/core/elective"
	"github.com/MrXof/ElectiveFlow/core/user"
	testutil "github.com/MrXof/ElectiveFlow/tests"
)

type electiveUsers struct {
	teacher, otherTeacher, admin user.User
	students                     []user.User
}

func createElectiveUsers(t *testing.T, app *testApp, nStudents int) electiveUsers {
	t.Helper()
	users := electiveUsers{
		teacher:      testutil.CreateUser(t, app.usrRepo, "Grace", "grace@test.test", pwd, []string{user.RoleTeacher}, true),
		otherTeacher: testutil.CreateUser(t, app.usrRepo, "Alan", "alan@test.test", pwd, []string{user.RoleTeacher}, true),
		admin:        testutil.CreateUser(t, app.usrRepo, "Admin", "admin@test.test", pwd, []string{user.RoleAdmin}, true),
	}
	for i := 0; i < nStudents; i++ {
		name := string(rune('A' + i))
		users.students = append(users.students,
			testutil.CreateUser(t, app.usrRepo, name, strings.ToLower(name)+"@test.test", pwd, []string{user.RoleStudent}, true))
	}
	return users
}

func offeringPath(off elective.Offering, suffix ...string) string {
	return "/v1/offerings/" + off.ID + strings.Join(suffix, "")
}

func Test_electiveApi_offerings(t *testing.T) {
	app := setup(t)
	users := createElectiveUsers(t, app, 1)
	teacherToken := app.getToken(t, users.teacher)

	groups := 2
	now := time.Now().UTC().Truncate(time.Second)
	valid := elective.NewOffering{
		Name:              " Robotics ",
		Description:       "Build robots",
		Period:            "2026 fall",
		Capacity:          20,
		Categories:        []string{"engineering", "robotics"},
		Policy:            elective.PolicyUniform,
		NumberOfGroups:    &groups,
		RegistrationStart: now,
		RegistrationEnd:   now.AddDate(0, 0, 14),
	}

	app.runHTTPTests(t, []httpTest{
		{name: "auth required", path: "/v1/offerings", wantCode: http.StatusUnauthorized, wantData: marshallObj(t, errMissingToken)},
		{
			name: "students cannot create", method: http.MethodPost, path: "/v1/offerings", token: app.getToken(t, users.students[0]),
			body: marshallObj(t, valid), wantCode: http.StatusForbidden, wantData: marshallObj(t, httpErr{Error: "permission denied"}),
		},
		{
			name: "unknown policy", method: http.MethodPost, path: "/v1/offerings", token: teacherToken,
			body:     []byte(strings.Replace(string(marshallObj(t, valid)), `"uniform"`, `"lottery"`, 1)),
			wantCode: http.StatusBadRequest,
			wantData: marshallObj(t, map[string]string{"policy": "policy must be one of: uniform, priority, manual"}),
		},
		{name: "not found", path: "/v1/offerings/nope", token: teacherToken, wantCode: http.StatusNotFound, wantData: marshallObj(t, httpErr{Error: "not found"})},
	})

	t.Run("missing fields", func(t *testing.T) {
		rec := app.do(http.MethodPost, "/v1/offerings", teacherToken, []byte(`{}`))
		require.Equal(t, http.StatusBadRequest, rec.Code)
		var fldErrs map[string]string
		unmarshall(t, rec, &fldErrs)
		for _, fld := range []string{"name", "description", "period", "capacity", "categories", "policy"} {
			assert.Contains(t, fldErrs, fld)
		}
	})

	var created elective.Offering
	t.Run("create", func(t *testing.T) {
		rec := app.do(http.MethodPost, "/v1/offerings", teacherToken, marshallObj(t, valid))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		unmarshall(t, rec, &created)
		assert.Equal(t, "Robotics", created.Name)
		assert.Equal(t, users.teacher.ID, created.TeacherID)
		assert.Equal(t, "Grace", created.TeacherName)
		assert.Equal(t, 0, created.Enrolled)
		assert.Equal(t, 2, created.Groups())
	})
	other := testutil.CreateOffering(t, app.elecRepo, users.otherTeacher, "Painting", 10, elective.PolicyManual, testutil.WithCategories("art"))

	t.Run("query", func(t *testing.T) {
		rec := app.do(http.MethodGet, "/v1/offerings?category=ROBOTICS", teacherToken)
		require.Equal(t, http.StatusOK, rec.Code)
		var offs []elective.Offering
		unmarshall(t, rec, &offs)
		require.Len(t, offs, 1)
		assert.Equal(t, created.ID, offs[0].ID)

		rec = app.do(http.MethodGet, "/v1/offerings?teacher_id="+users.otherTeacher.ID, teacherToken)
		checkCodeAndData(t, httpTest{wantCode: http.StatusOK, wantData: marshallList(t, other)}, rec)
	})

	t.Run("update", func(t *testing.T) {
		body := []byte(`{"capacity": 30, "number_of_groups": 3}`)
		rec := app.do(http.MethodPut, offeringPath(created), app.getToken(t, users.otherTeacher), body)
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec = app.do(http.MethodPut, offeringPath(created), teacherToken, []byte(`{"capacity": 2, "number_of_groups": 3}`))
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"number_of_groups": "there cannot be more groups than seats"}`, rec.Body.String())

		rec = app.do(http.MethodPut, offeringPath(created), teacherToken, body)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var updated elective.Offering
		unmarshall(t, rec, &updated)
		assert.Equal(t, 30, updated.Capacity)
		assert.Equal(t, 3, updated.Groups())
		assert.Equal(t, "Robotics", updated.Name)
	})

	t.Run("admin updates any", func(t *testing.T) {
		rec := app.do(http.MethodPut, offeringPath(other), app.getToken(t, users.admin), []byte(`{"name": "Oil painting"}`))
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	})

	t.Run("delete", func(t *testing.T) {
		rec := app.do(http.MethodDelete, offeringPath(created), teacherToken)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		rec = app.do(http.MethodGet, offeringPath(created), teacherToken)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func Test_electiveApi_reassignTeacher(t *testing.T) {
	app := setup(t)
	users := createElectiveUsers(t, app, 1)
	adminToken := app.getToken(t, users.admin)
	off := testutil.CreateOffering(t, app.elecRepo, users.teacher, "Robotics", 10, elective.PolicyManual)
	path := offeringPath(off, "/teacher")

	app.runHTTPTests(t, []httpTest{
		{
			name: "owner cannot hand over", method: http.MethodPut, path: path, token: app.getToken(t, users.teacher),
			body: marshallObj(t, map[string]string{"teacher_id": users.otherTeacher.ID}), wantCode: http.StatusForbidden,
		},
		{
			name: "teacher required", method: http.MethodPut, path: path, token: adminToken, body: []byte(`{}`),
			wantCode: http.StatusBadRequest, wantData: marshallObj(t, map[string]string{"teacher_id": "this field is required"}),
		},
		{
			name: "unknown teacher", method: http.MethodPut, path: path, token: adminToken,
			body:     marshallObj(t, map[string]string{"teacher_id": "nope"}),
			wantCode: http.StatusBadRequest, wantData: marshallObj(t, map[string]string{"teacher_id": "user not found"}),
		},
		{
			name: "not a teacher", method: http.MethodPut, path: path, token: adminToken,
			body: marshallObj(t, map[string]string{"teacher_id": users.students[0].ID}), wantCode: http.StatusBadRequest,
		},
		{
			name: "unknown elective", method: http.MethodPut, path: "/v1/offerings/nope/teacher", token: adminToken,
			body: marshallObj(t, map[string]string{"teacher_id": users.otherTeacher.ID}), wantCode: http.StatusNotFound,
		},
	})

	rec := app.do(http.MethodPut, path, adminToken, marshallObj(t, map[string]string{"teacher_id": users.otherTeacher.ID}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated elective.Offering
	unmarshall(t, rec, &updated)
	assert.Equal(t, users.otherTeacher.ID, updated.TeacherID)
	assert.Equal(t, "Alan", updated.TeacherName)

	// the new teacher owns the elective
	rec = app.do(http.MethodPut, offeringPath(off), app.getToken(t, users.otherTeacher), []byte(`{"name": "Robotics II"}`))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = app.do(http.MethodPut, offeringPath(off), app.getToken(t, users.teacher), []byte(`{"name": "Robotics III"}`))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func Test_electiveApi_registrations(t *testing.T) {
	app := setup(t)
	users := createElectiveUsers(t, app, 2)
	a, b := users.students[0], users.students[1]
	aToken, bToken := app.getToken(t, a), app.getToken(t, b)
	teacherToken := app.getToken(t, users.teacher)
	off := testutil.CreateOffering(t, app.elecRepo, users.teacher, "Robotics", 4, elective.PolicyUniform, testutil.WithGroups(2))
	path := offeringPath(off, "/registrations")

	app.runHTTPTests(t, []httpTest{
		{name: "teachers cannot register", method: http.MethodPost, path: path, token: teacherToken, wantCode: http.StatusForbidden},
		{name: "invalid priority", method: http.MethodPost, path: path, token: aToken, body: []byte(`{"priority": 0}`), wantCode: http.StatusBadRequest},
	})

	var regA, regB elective.Registration
	rec := app.do(http.MethodPost, path, aToken)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	unmarshall(t, rec, &regA)
	assert.Equal(t, elective.StatusConfirmed, regA.Status)
	require.NotNil(t, regA.Group)
	assert.Equal(t, 1, *regA.Group)

	rec = app.do(http.MethodPost, path, aToken)
	checkCodeAndData(t, httpTest{
		wantCode: http.StatusConflict, wantData: marshallObj(t, httpErr{Error: "student already registered for this elective"}),
	}, rec)

	rec = app.do(http.MethodPost, path, bToken, []byte(`{"priority": 2}`))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	unmarshall(t, rec, &regB)
	require.NotNil(t, regB.Group)
	assert.Equal(t, 2, *regB.Group)
	assert.Len(t, app.mailSvc.SentMessages(), 2)

	app.runHTTPTests(t, []httpTest{
		{name: "students cannot list", path: path, token: aToken, wantCode: http.StatusForbidden},
		{name: "owner lists", path: path, token: teacherToken, wantCode: http.StatusOK, wantData: marshallList(t, regA, regB)},
		{name: "filter by status", path: path + "?status=waitlisted", token: teacherToken, wantCode: http.StatusOK, wantData: marshallList(t)},
		{name: "my registrations", path: "/v1/users/me/registrations", token: aToken, wantCode: http.StatusOK, wantData: marshallList(t, regA)},
		{
			name: "cannot unregister someone else", method: http.MethodDelete, path: "/v1/registrations/" + regB.ID, token: aToken,
			wantCode: http.StatusNotFound,
		},
		{name: "unknown registration", method: http.MethodDelete, path: "/v1/registrations/nope", token: aToken, wantCode: http.StatusNotFound},
		{name: "unregister", method: http.MethodDelete, path: "/v1/registrations/" + regB.ID, token: bToken, wantCode: http.StatusNoContent},
	})

	stored, err := app.elecRepo.GetOffering(context.Background(), off.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Enrolled)

	t.Run("owner unregisters a student", func(t *testing.T) {
		rec := app.do(http.MethodDelete, "/v1/registrations/"+regA.ID, teacherToken)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}

func Test_electiveApi_groups(t *testing.T) {
	app := setup(t)
	users := createElectiveUsers(t, app, 4)
	teacherToken := app.getToken(t, users.teacher)
	off := testutil.CreateOffering(t, app.elecRepo, users.teacher, "Chess", 4, elective.PolicyPriority, testutil.WithGroups(2))

	regs := make([]elective.Registration, 0, len(users.students))
	for i, student := range users.students {
		body := []byte(fmt.Sprintf(`{"priority": %d}`, i%2+1))
		rec := app.do(http.MethodPost, offeringPath(off, "/registrations"), app.getToken(t, student), body)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		var reg elective.Registration
		unmarshall(t, rec, &reg)
		assert.Equal(t, elective.StatusPending, reg.Status)
		assert.Nil(t, reg.Group)
		regs = append(regs, reg)
	}

	stored := func(t *testing.T) []elective.Registration {
		t.Helper()
		rs, err := app.elecRepo.QueryRegistrations(context.Background(), elective.RegistrationFilter{OfferingID: off.ID})
		require.NoError(t, err)
		return rs
	}

	t.Run("optimize preview", func(t *testing.T) {
		rec := app.do(http.MethodPost, offeringPath(off, "/optimize"), teacherToken)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var res elective.OptimizeResult
		unmarshall(t, rec, &res)
		assert.False(t, res.Applied)
		require.Len(t, res.Registrations, 4)
		for _, reg := range res.Registrations {
			assert.NotNil(t, reg.Group)
		}
		for _, reg := range stored(t) {
			assert.Nil(t, reg.Group)
		}
	})

	t.Run("optimize apply", func(t *testing.T) {
		rec := app.do(http.MethodPost, offeringPath(off, "/optimize?apply=true"), teacherToken)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var res elective.OptimizeResult
		unmarshall(t, rec, &res)
		assert.True(t, res.Applied)
		assert.Equal(t, float64(0), res.BalanceCoefficient)
		for _, reg := range stored(t) {
			assert.NotNil(t, reg.Group)
		}
	})

	t.Run("invalid changeset", func(t *testing.T) {
		body := []byte(fmt.Sprintf(`{"changes": {%q: 5}}`, regs[0].ID))
		rec := app.do(http.MethodPost, offeringPath(off, "/groups"), teacherToken, body)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, fmt.Sprintf(`{%q: "group must be between 1 and 2"}`, regs[0].ID), rec.Body.String())
	})

	t.Run("unassign then autofill", func(t *testing.T) {
		body := []byte(fmt.Sprintf(`{"changes": {%q: null}}`, regs[0].ID))
		rec := app.do(http.MethodPost, offeringPath(off, "/groups"), teacherToken, body)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var changed []elective.Registration
		unmarshall(t, rec, &changed)
		require.Len(t, changed, 1)
		assert.Nil(t, changed[0].Group)
		assert.Equal(t, elective.StatusPending, changed[0].Status)

		rec = app.do(http.MethodPost, offeringPath(off, "/autofill"), teacherToken)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var placed []elective.Registration
		unmarshall(t, rec, &placed)
		require.Len(t, placed, 1)
		assert.Equal(t, regs[0].ID, placed[0].ID)
		assert.NotNil(t, placed[0].Group)
	})

	t.Run("analytics", func(t *testing.T) {
		rec := app.do(http.MethodGet, offeringPath(off, "/analytics?days=lots"), teacherToken)
		checkCodeAndData(t, httpTest{wantCode: http.StatusBadRequest, wantData: marshallObj(t, map[string]string{"days": "must be an integer"})}, rec)

		rec = app.do(http.MethodGet, offeringPath(off, "/analytics?days=7"), teacherToken)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var res elective.Analytics
		unmarshall(t, rec, &res)
		require.Len(t, res.Daily, 1)
		assert.Equal(t, 4, res.Daily[0].Count)
		require.NotNil(t, res.Balance)
		assert.Equal(t, float64(0), res.Balance.Coefficient)
	})

	t.Run("export", func(t *testing.T) {
		rec := app.do(http.MethodGet, offeringPath(off, "/export"), app.getToken(t, users.students[0]))
		assert.Equal(t, http.StatusForbidden, rec.Code)

		rec = app.do(http.MethodGet, offeringPath(off, "/export"), teacherToken)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
		rows, err := csv.NewReader(rec.Body).ReadAll()
		require.NoError(t, err)
		require.Len(t, rows, 5)
		assert.Equal(t, []string{"id", "student_id", "student_name", "registered_at", "priority", "group", "status"}, rows[0])
	})

	t.Run("no groups", func(t *testing.T) {
		manual := testutil.CreateOffering(t, app.elecRepo, users.teacher, "Drama", 4, elective.PolicyManual)
		rec := app.do(http.MethodPost, offeringPath(manual, "/optimize"), teacherToken)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusBadRequest, wantData: marshallObj(t, httpErr{Error: "elective has no groups configured"}),
		}, rec)
	})
}

func Test_electiveApi_recommendations(t *testing.T) {
	app := setup(t)
	users := createElectiveUsers(t, app, 1)
	student := users.students[0]
	student.Interests = []string{"art", "music"}
	student, err := app.usrRepo.UpdateUser(context.Background(), student)
	require.NoError(t, err)

	painting := testutil.CreateOffering(t, app.elecRepo, users.teacher, "Painting", 10, elective.PolicyManual, testutil.WithCategories("art"))
	band := testutil.CreateOffering(t, app.elecRepo, users.teacher, "Band", 10, elective.PolicyManual, testutil.WithCategories("art", "music"))
	testutil.CreateOffering(t, app.elecRepo, users.teacher, "Football", 10, elective.PolicyManual, testutil.WithCategories("sports"))
	token := app.getToken(t, student)

	app.runHTTPTests(t, []httpTest{
		{name: "students only", path: "/v1/recommendations", token: app.getToken(t, users.teacher), wantCode: http.StatusForbidden},
		{name: "best matches first", path: "/v1/recommendations", token: token, wantCode: http.StatusOK},
		{name: "limit", path: "/v1/recommendations?limit=1", token: token, wantCode: http.StatusOK, wantData: marshallObj(t, []elective.Offering{band})},
		{name: "invalid limit", path: "/v1/recommendations?limit=x", token: token, wantCode: http.StatusBadRequest},
	})

	rec := app.do(http.MethodGet, "/v1/recommendations", token)
	var recs []elective.Offering
	unmarshall(t, rec, &recs)
	require.Len(t, recs, 2)
	assert.Equal(t, band.ID, recs[0].ID)
	assert.Equal(t, painting.ID, recs[1].ID)
}

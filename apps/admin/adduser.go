package main

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/MrXof/ElectiveFlow/core"
	"github.com/MrXof/ElectiveFlow/core/user"
)

var roleFlags = map[string][]string{
	"student": {user.RoleStudent},
	"teacher": {user.RoleTeacher},
	"admin":   {user.RoleAdmin},
	"owner":   user.AllRoles,
}

// addUser updates or creates an active user.User
func (cli *commandLine) addUser(email, name, pwd string, roles []string) error {
	ctx := context.Background()
	email = core.CleanString(email, true /* lower */)
	name = core.CleanString(name)
	now := time.Now().UTC()

	usr, err := cli.usrRepo.GetUserByEmail(ctx, email)
	if err != nil && errors.Cause(err) != user.ErrNotFound {
		return errors.Wrap(err, "finding user by email")
	}
	exists := err == nil
	if !exists {
		usr = user.User{Email: email, CreatedAt: now}
	}
	if name != "" {
		usr.Name = name
	} else if usr.Name == "" {
		usr.Name = email
	}
	usr.Roles = roles
	usr.IsActive = true
	usr.UpdatedAt = now
	if err = usr.SetPassword(pwd); err != nil {
		return errors.Wrap(err, "setting password")
	}

	if exists {
		_, err = cli.usrRepo.UpdateUser(ctx, usr)
		return errors.Wrap(err, "updating user")
	}
	_, err = cli.usrRepo.CreateUser(ctx, usr)
	return errors.Wrap(err, "creating user")
}

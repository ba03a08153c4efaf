/*
Package lifecycle implements the soft-delete state machine shared by every
persisted entity type.

An entity is Active while its deleted timestamp is nil and SoftDeleted once
Delete sets it. Restore moves it back. Remove takes either state out of the
repository for good. Every mutation is written to the audit trail through an
audit.Recorder; the audit outcome never rolls a mutation back.

	users, err := lifecycle.NewManager(lifecycle.Config[*entity.User]{
		Repository: memory.New(func() *entity.User { return &entity.User{} }),
		New:        func() *entity.User { return &entity.User{} },
		Recorder:   recorder,
	})

	u, err := users.Add(ctx, &entity.User{Username: "alice"}, "admin")
	err = users.Delete(ctx, u.ID, "admin")
	err = users.Restore(ctx, u.ID, "admin")

Check-then-act sequences on one id are serialized within a Manager.
Errors wrap the kinds in package sentinel.
*/
package lifecycle

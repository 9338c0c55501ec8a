package service

import "context"

// Service is an interface for all services that can be run in app.App.
type Service interface {
	// Run the Service until the given context.Context is done.
	Run(ctx context.Context) error
}

// Func allows using a function as Service.
type Func func(ctx context.Context) error

// Run calls the function.
func (fn Func) Run(ctx context.Context) error {
	return fn(ctx)
}

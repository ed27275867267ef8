package smsratelimit_test

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/parkerroan/smsratelimit"
	"github.com/parkerroan/smsratelimit/history"
	"github.com/parkerroan/smsratelimit/limiter"
	"golang.org/x/time/rate"
)

func ExampleController_CheckAdmission() {
	ctrl, err := smsratelimit.NewController(
		limiter.NewRegistry(),
		history.NewStore(),
		smsratelimit.WithSenderCapacity(2),
		smsratelimit.WithGlobalCapacity(100),
	)
	if err != nil {
		panic(err)
	}
	defer ctrl.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		v := ctrl.CheckAdmission(ctx, "+15551230000")
		if v.Admitted {
			fmt.Println(v.Outcome)
			continue
		}
		fmt.Println(v.Outcome, v.Reason)
	}
	// Output:
	// ADMITTED
	// ADMITTED
	// DENIED_SENDER Phone number rate limit exceeded (2/2 messages per second)
}

// ExampleNewRouter shows how to serve the check and monitoring API.
func ExampleNewRouter() {
	registry := limiter.NewRegistry()
	store := history.NewStore()

	ctrl, err := smsratelimit.NewController(registry, store)
	if err != nil {
		panic(err)
	}

	ctx := context.Background()
	go smsratelimit.NewLimiterSweeper(registry, 2*time.Minute, time.Minute).Run(ctx)
	go smsratelimit.NewHistorySweeper(store, 3*time.Minute, time.Minute).Run(ctx)

	r := smsratelimit.NewRouter(ctrl, rate.NewLimiter(20, 40))
	_ = http.ListenAndServe(":8080", r)
}

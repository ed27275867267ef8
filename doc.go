/*
Package smsratelimit decides whether an SMS may be sent under two rate ceilings
enforced at the same time: one per sending phone number and one for the whole
account.

Each ceiling is a sliding one second window (see package limiter). A message is
admitted only when both windows have room; when the sender window has room but
the account window does not, the slot taken from the sender is given back so a
message that was never sent does not consume the sender's budget.

Every decision is recorded in a per-second history (see package history) which
backs the monitoring reads.

Example:

	import (
		"github.com/parkerroan/smsratelimit"
		"github.com/parkerroan/smsratelimit/history"
		"github.com/parkerroan/smsratelimit/limiter"
	)

	ctrl, err := smsratelimit.NewController(
		limiter.NewRegistry(),
		history.NewStore(),
		smsratelimit.WithSenderCapacity(5),
		smsratelimit.WithGlobalCapacity(100),
	)
	if err != nil {
		return err
	}

	verdict := ctrl.CheckAdmission(ctx, "+15551230000")
	if !verdict.Admitted {
		log.Println(verdict.Reason)
	}

Inactive limiters and old history buckets are removed by the sweepers returned
from NewLimiterSweeper and NewHistorySweeper, which the caller runs for the
lifetime of the process.
*/
package smsratelimit

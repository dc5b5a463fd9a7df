// Package coordinator owns the cached device state and decides when to
// refresh it from the cloud.
//
// Coordinator runs the polling loop. Each tick either reads the device
// over the network or, when the device is off and was read recently,
// serves the cached Snapshot untouched. Reconciler sits on top: it issues
// commands, writes the commanded values into the snapshot straight away
// and prefers them over polled data for a short grace window, so a slow
// backend never makes a switch flick back.
//
// Usage:
//
//	coord, _ := coordinator.New(coordinator.Options{Source: client, PowerDatapoint: 12})
//	rec, _ := coordinator.NewReconciler(coordinator.ReconcilerOptions{Invoker: client, Coordinator: coord})
//	if err := coord.FirstRefresh(ctx); err != nil {
//	    return err
//	}
//	go coord.Run(ctx)
//	err := rec.Issue(ctx, map[int]string{13: "3"})
package coordinator

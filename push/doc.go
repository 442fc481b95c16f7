// Package push implements streaming synchronization: it authenticates
// against the control plane, holds a server-sent-events connection open,
// decodes notifications, tracks streaming health and hands feature-flag and
// segment updates to per-kind workers.
//
// Health transitions are reported as Status values on a feedback channel.
// The caller (see package sync) reacts to them by switching between
// streaming and polling:
//
//	feedback := make(chan push.Status, 16)
//	manager, err := push.NewManager(&push.ManagerConfig{
//	    StreamingURL:   "https://streaming.split.io",
//	    Authenticator:  auth,
//	    Synchronizer:   synchronizer,
//	    FlagStorage:    flags,
//	    SegmentStorage: segments,
//	    Feedback:       feedback,
//	})
//	if err != nil {
//	    return err
//	}
//	manager.Start(ctx)
//	for status := range feedback {
//	    ...
//	}
package push

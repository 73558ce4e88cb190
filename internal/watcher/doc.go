// Package watcher wraps fsnotify and delivers classified filesystem events
// to registered callbacks.
//
// Callbacks for one Watcher run serially on its dispatch goroutine, in the
// order fsnotify reported the events. They must return quickly and must not
// close their own Handle. Delivery mirrors what the platform reports: a
// single write can surface as zero, one or several events, so consumers
// should treat events as hints to reconcile with the filesystem rather than
// as an exact change log.
//
// Only directories are added to fsnotify. Registrations that share a
// directory share its watch, so one change is reported once per
// registration even when a file and its directory are both registered.
package watcher

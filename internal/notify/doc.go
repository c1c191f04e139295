// Package notify delivers audit records, public announcements and operator
// alerts.
//
// Every notifier is best-effort from the coordinator's point of view: an
// error is logged by the caller and never undoes a committed transaction.
// Fanout combines notifiers so that one failing sink does not starve the
// others.
package notify

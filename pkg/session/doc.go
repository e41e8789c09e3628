/*
Package session suspends processes into a snapshot store and restores them.

Access to a snapshot ID is serialized in-process with reference-counted locks and,
across engine instances, with an optional ports.DistributedLocker.
*/
package session

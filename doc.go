// Package corort is a cooperative concurrency runtime for Linux servers.
//
// It lets a program express asynchronous I/O and CPU work as structured
// tasks (Task[T]) and executes those tasks on an event loop (IoScheduler)
// backed by epoll, optionally offloading resumption to a worker thread
// pool (ThreadPool). SyncWait blocks a goroutine until an awaitable
// completes; WhenAll awaits a collection of tasks concurrently.
//
// The runtime assumes Linux: IoScheduler is built on epoll, eventfd, and
// timerfd. There is no portable fallback and none is planned.
package corort

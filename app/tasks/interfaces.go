package tasks

import "github.com/lysyi3m/rss-desk/app/database"

// QueueInterface is the background task queue used by the server and the
// refresh pipeline:
//
//	queue := NewQueue(deps, workerCount)
//	queue.Start()
//	defer queue.Stop()
//	queue.EnqueueTask(NewSyncFeedSeedTask(seed, feedRepo))
type QueueInterface interface {
	Start()
	Stop()
	EnqueueTask(task Runnable) error
	EnqueueExtraction(article database.Article) error
}

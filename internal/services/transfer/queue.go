package transfer

import "github.com/3Eeeecho/go-uploadhub/internal/models"

// jobQueue 是按优先级排序的等待队列
// 插入时找到第一个优先级严格小于新任务的位置并插到它前面，
// 相同优先级保持到达顺序（FIFO），队列一旦排定不会再重排
type jobQueue struct {
	items []*models.UploadJob
}

func newJobQueue() *jobQueue {
	return &jobQueue{}
}

// Push 优先级有序插入
func (q *jobQueue) Push(job *models.UploadJob) {
	pos := len(q.items)
	for i, item := range q.items {
		if item.Priority < job.Priority {
			pos = i
			break
		}
	}
	q.items = append(q.items, nil)
	copy(q.items[pos+1:], q.items[pos:])
	q.items[pos] = job
}

// Pop 弹出队首（当前最高优先级、最早到达的任务）
func (q *jobQueue) Pop() *models.UploadJob {
	if len(q.items) == 0 {
		return nil
	}
	job := q.items[0]
	q.items = q.items[1:]
	return job
}

// Remove 按 id 移除队列中的任务，在任务排队阶段被取消时使用
func (q *jobQueue) Remove(id string) *models.UploadJob {
	for i, item := range q.items {
		if item.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return item
		}
	}
	return nil
}

// Get 按 id 查找队列中的任务
func (q *jobQueue) Get(id string) *models.UploadJob {
	for _, item := range q.items {
		if item.ID == id {
			return item
		}
	}
	return nil
}

func (q *jobQueue) Len() int {
	return len(q.items)
}

// Views 返回队列中全部任务的快照，保持队列顺序
func (q *jobQueue) Views() []models.JobView {
	views := make([]models.JobView, 0, len(q.items))
	for _, item := range q.items {
		views = append(views, item.View())
	}
	return views
}

package worker

import (
	"log"
	"time"

	"refund_engine/internal/pkg/push"
)

// NotifyTask 退款状态变更通知任务
// 客户侧只推送通用文案，网关原始返回绝不出现在推送里
type NotifyTask struct {
	CustomerID string
	Title      string
	Body       string
	Ext        map[string]string
	Retry      int // 重试次数
}

// NotifyPool 通知分发池：退款流转的推送走异步队列，失败进重试队列
type NotifyPool struct {
	TaskQueue  chan NotifyTask
	RetryQueue chan NotifyTask // 重试队列
	WorkerNum  int
	MaxRetry   int // 最大重试次数
}

func NewNotifyPool(workerNum int, bufferSize int) *NotifyPool {
	return &NotifyPool{
		TaskQueue:  make(chan NotifyTask, bufferSize),
		RetryQueue: make(chan NotifyTask, bufferSize/2),
		WorkerNum:  workerNum,
		MaxRetry:   3, // 最多重试3次
	}
}

func (p *NotifyPool) Start() {
	for i := 0; i < p.WorkerNum; i++ {
		go p.worker(i)
	}
	// 启动重试处理协程
	go p.retryWorker()
	log.Printf("Notify pool started with %d workers", p.WorkerNum)
}

func (p *NotifyPool) worker(id int) {
	for task := range p.TaskQueue {
		if err := p.processTask(task); err != nil {
			log.Printf("[Worker %d] Failed to push notification (CustomerID: %s): %v",
				id, task.CustomerID, err)

			// 如果未达到最大重试次数，加入重试队列
			if task.Retry < p.MaxRetry {
				task.Retry++
				select {
				case p.RetryQueue <- task:
				default:
					log.Printf("[Worker %d] Retry queue full, task dropped: %+v", id, task)
					p.logFailedTask(task, err)
				}
			} else {
				log.Printf("[Worker %d] Task exceeded max retries, dropped: %+v", id, task)
				p.logFailedTask(task, err)
			}
		}
	}
}

func (p *NotifyPool) retryWorker() {
	for task := range p.RetryQueue {
		// 延迟重试，避免立即重试
		time.Sleep(time.Duration(task.Retry) * time.Second)

		// 重新加入主队列
		select {
		case p.TaskQueue <- task:
		default:
			log.Printf("[RetryWorker] Main queue full, task dropped: %+v", task)
			p.logFailedTask(task, nil)
		}
	}
}

func (p *NotifyPool) processTask(task NotifyTask) error {
	// 未配置推送服务时静默丢弃，不影响退款主流程
	if push.GlobalPushService == nil {
		return nil
	}
	return push.GlobalPushService.PushToAccount(task.CustomerID, task.Title, task.Body, task.Ext)
}

func (p *NotifyPool) logFailedTask(task NotifyTask, err error) {
	log.Printf("[DeadLetter] Notification failed permanently: CustomerID=%s, Title=%s, Error=%v",
		task.CustomerID, task.Title, err)
}

func (p *NotifyPool) AddTask(task NotifyTask) {
	select {
	case p.TaskQueue <- task:
		// 任务入队成功
	default:
		log.Printf("Notify pool queue full, dropping task: %+v", task)
		p.logFailedTask(task, nil)
	}
}

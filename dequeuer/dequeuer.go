// The dequeuer pulls analysis jobs out of the database and does some work.
package dequeuer

import (
	"database/sql"
	"errors"
	"log"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/Shyp/go-dberror"
	metrics "github.com/Shyp/go-simple-metrics"
	"github.com/d3vv3/kcal-ai-bot/models"
	"github.com/d3vv3/kcal-ai-bot/models/analysis_jobs"
)

const defaultSleepFactor = 2

// 10ms * 2^10 ~ 10 seconds between attempts
var maxMultiplier = math.Pow(2, 10)

// A Worker does some work with an AnalysisJob. Worker implementations may
// be shared between dequeuers and must be threadsafe.
type Worker interface {
	// DoWork runs one attempt of the acquired job, end to end: call the AI
	// service, then record the outcome via services.HandleAttemptResult.
	// Errors are logged, but otherwise nothing else is done with them; the
	// job itself has already been released or archived by the time DoWork
	// returns.
	DoWork(*models.AnalysisJob) error
}

// A Pool contains a set of dequeuers, each one a blocking
// acquire-process-repeat loop sharing the same Worker.
type Pool struct {
	Dequeuers              []*Dequeuer
	receivedShutdownSignal bool
	mu                     sync.Mutex
	wg                     sync.WaitGroup
}

type Dequeuer struct {
	Id       int
	QuitChan chan bool
	W        Worker
	// How long to sleep if there is no work to do.
	sleepFactor float64
}

// CreatePool creates a Pool running concurrency dequeuers. The provided
// Worker w is shared between all of them, so it must be thread safe.
func CreatePool(w Worker, concurrency int) (*Pool, error) {
	p := new(Pool)
	for i := 0; i < concurrency; i++ {
		if err := p.AddDequeuer(w); err != nil {
			return p, err
		}
	}
	return p, nil
}

var emptyPool = errors.New("No workers left to dequeue")
var poolShutdown = errors.New("Cannot add worker because the pool is shutting down")

// AddDequeuer adds a Dequeuer to the Pool and starts its work loop. w is
// the work the Dequeuer will do with an acquired job.
func (p *Pool) AddDequeuer(w Worker) error {
	if p.receivedShutdownSignal {
		return poolShutdown
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	d := &Dequeuer{
		Id:          len(p.Dequeuers) + 1,
		QuitChan:    make(chan bool, 1),
		W:           w,
		sleepFactor: defaultSleepFactor,
	}
	p.Dequeuers = append(p.Dequeuers, d)
	p.wg.Add(1)
	go d.Work(&p.wg)
	return nil
}

// RemoveDequeuer removes a dequeuer from the pool and sends that dequeuer
// a shutdown signal.
func (p *Pool) RemoveDequeuer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Dequeuers) == 0 {
		return emptyPool
	}
	dq := p.Dequeuers[0]
	p.Dequeuers = append(p.Dequeuers[:0], p.Dequeuers[1:]...)
	dq.QuitChan <- true
	close(dq.QuitChan)
	return nil
}

// Shutdown all workers in the pool and wait for them to finish their
// current jobs.
func (p *Pool) Shutdown() error {
	p.receivedShutdownSignal = true
	l := len(p.Dequeuers)
	for i := 0; i < l; i++ {
		err := p.RemoveDequeuer()
		if err != nil {
			return err
		}
	}
	p.wg.Wait()
	return nil
}

// Jitter returns a value that's around the given val, but not exactly it.
// The jitter is randomly chosen between 0.8 and 1.2 times the given value,
// evenly distributed.
func jitter(val float64) float64 {
	return val*0.8 + rand.Float64()*0.2*2*val
}

func (d *Dequeuer) Work(wg *sync.WaitGroup) {
	defer wg.Done()
	failedAcquireCount := 0
	waitDuration := time.Duration(jitter(float64(500 * time.Millisecond)))
	for {
		select {
		case <-d.QuitChan:
			log.Printf("dequeuer %d quitting\n", d.Id)
			return

		case <-time.After(waitDuration):
			start := time.Now()
			aj, err := analysis_jobs.Acquire()
			go metrics.Time("acquire.latency", time.Since(start))
			if err == nil {
				failedAcquireCount = 0
				waitDuration = time.Duration(0)
				err = d.W.DoWork(aj)
				if err != nil {
					log.Printf("dequeuer: Error processing job %s: %s", aj.ID.String(), err)
					go metrics.Increment("dequeue.error")
				} else {
					go metrics.Increment("dequeue.success")
				}
				continue
			}
			if dberr, ok := err.(*dberror.Error); ok && dberr.Code == dberror.CodeLockNotAvailable {
				// The SELECT found a row but another dequeuer got it first.
				// Don't sleep at all.
				go metrics.Increment("dequeue.nowait")
				failedAcquireCount = 0
				waitDuration = time.Duration(0)
				continue
			}
			if err != sql.ErrNoRows {
				log.Printf("dequeuer: Error acquiring job: %s", err)
			}
			failedAcquireCount++
			multiplier := math.Pow(d.sleepFactor, float64(failedAcquireCount))
			if multiplier > maxMultiplier {
				multiplier = maxMultiplier
			}
			multiplier = jitter(multiplier)
			waitDuration = 10 * time.Duration(multiplier) * time.Millisecond
		}
	}
}

package jobworker

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"sync"

	"github.com/domonda/go-errs"
	"github.com/domonda/go-types"
	"github.com/domonda/go-types/notnull"

	"github.com/domonda/go-topicqueue"
)

var (
	workers    = map[string]Worker{}
	workersMtx sync.RWMutex
)

type Worker interface {
	DoJob(ctx context.Context, job *topicqueue.Job) (result any, err error)
}

type WorkerFunc func(ctx context.Context, job *topicqueue.Job) (result any, err error)

func (f WorkerFunc) DoJob(ctx context.Context, job *topicqueue.Job) (result any, err error) {
	return f(ctx, job)
}

// Register a Worker implementation for the jobs of a topic.
// See also RegisterFunc
func Register(topic string, worker Worker) {
	defer errs.LogPanicWithFuncParams(log.ErrorWriter(), topic)

	if topic == "" {
		panic(fmt.Errorf("topic must not be empty"))
	}

	workersMtx.Lock()
	defer workersMtx.Unlock()

	if _, exists := workers[topic]; exists {
		panic(fmt.Errorf("a worker for topic %#v has already been registered", topic))
	}

	workers[topic] = worker
}

// IsRegistered checks if a worker is registered for the given topic.
func IsRegistered(topic string) bool {
	workersMtx.RLock()
	defer workersMtx.RUnlock()

	return workers[topic] != nil
}

func RegisteredTopics() notnull.StringArray {
	workersMtx.RLock()
	defer workersMtx.RUnlock()

	topics := make(notnull.StringArray, 0, len(workers))
	for topic := range workers {
		topics = append(topics, topic)
	}
	slices.Sort(topics)
	return topics
}

// RegisterFunc uses reflection to register a function with a custom
// payload argument type as Worker for the jobs of topic.
// The payload JSON of the job will be unmarshalled to the type of the argument.
//
// Supported signatures, where the result can be omitted,
// replaced by an error or be any type that can be marshalled to JSON:
//
//	func(ctx context.Context, payload *MyType) (result, error)
//	func(payload *MyType) (result, error)
func RegisterFunc(topic string, workerFunc any) {
	defer errs.LogPanicWithFuncParams(log.ErrorWriter(), topic, workerFunc)

	if topic == "" {
		panic(fmt.Errorf("topic must not be empty"))
	}

	registerFunc(topic, workerFunc)
}

// RegisterPayloadFunc works like RegisterFunc but registers workerFunc
// for the topic returned by topicqueue.TopicOfPayloadType
// for the payload argument type.
func RegisterPayloadFunc(workerFunc any) {
	defer errs.LogPanicWithFuncParams(log.ErrorWriter(), workerFunc)

	registerFunc("", workerFunc)
}

// registerFunc uses the topic of the payload type if topic is empty
func registerFunc(topic string, workerFunc any) {
	workerFuncVal := reflect.ValueOf(workerFunc)
	workerFuncType := workerFuncVal.Type()
	if workerFuncType.Kind() != reflect.Func {
		panic(fmt.Errorf("workerFunc is not a function but %T", workerFunc))
	}

	// Check arguments
	withContext := workerFuncType.NumIn() == 2 && workerFuncType.In(0) == typeOfContext
	if workerFuncType.NumIn() != 1 && !withContext {
		panic(fmt.Errorf("workerFunc must have a payload argument optionally preceded by a context.Context, but has %d arguments", workerFuncType.NumIn()))
	}
	argType := workerFuncType.In(workerFuncType.NumIn() - 1)
	if !types.CanMarshalJSON(argType) {
		panic(fmt.Errorf("workerFunc must have an argument type that can be marshalled to JSON, but has %s", argType))
	}
	payloadType := argType
	if payloadType.Kind() == reflect.Ptr {
		payloadType = payloadType.Elem()
	}
	switch payloadType.Kind() {
	case reflect.Struct, reflect.Slice, reflect.Map:
		// OK
	default:
		panic(fmt.Errorf("unsupported payload type %s", argType))
	}

	if topic == "" {
		topic = topicqueue.TopicOfPayloadType(payloadType)
	}

	resultIsError := false

	// Check result
	switch workerFuncType.NumOut() {
	case 0:
		// OK

	case 1:
		resultIsError = workerFuncType.Out(0) == typeOfError

	case 2:
		resultType := workerFuncType.Out(0)
		if !types.CanMarshalJSON(resultType) {
			panic(fmt.Errorf("workerFunc must have a first result type that can be marshalled to JSON, but has %s", resultType))
		}
		if workerFuncType.Out(1) != typeOfError {
			panic(fmt.Errorf("second workerFunc result must be of type error, but is %s", workerFuncType.Out(1)))
		}

	default:
		panic(fmt.Errorf("workerFunc must have 0, 1 or 2 results, but has %d", workerFuncType.NumOut()))
	}

	Register(topic, WorkerFunc(func(ctx context.Context, job *topicqueue.Job) (result any, err error) {
		payloadVal := reflect.New(payloadType)
		if !job.Payload.IsNull() {
			err = job.Payload.UnmarshalTo(payloadVal.Interface())
			if err != nil {
				return nil, fmt.Errorf("Error while unmarshalling job payload '%s': %w", job.Payload, err)
			}
		}
		if argType.Kind() != reflect.Ptr {
			payloadVal = payloadVal.Elem()
		}
		args := []reflect.Value{payloadVal}
		if withContext {
			args = []reflect.Value{reflect.ValueOf(ctx), payloadVal}
		}
		results := workerFuncVal.Call(args)
		switch len(results) {
		case 0:
			return nil, nil
		case 1:
			if resultIsError {
				return nil, errs.AsError(results[0].Interface())
			}
			return results[0].Interface(), nil
		case 2:
			return results[0].Interface(), errs.AsError(results[1].Interface())
		}
		panic("unsupported number of results")
	}))
}

func Unregister(topics ...string) {
	workersMtx.Lock()
	defer workersMtx.Unlock()

	if len(topics) > 0 {
		log.Debug("Unregister workers for topics").Strs("topics", topics).Log()
		for _, topic := range topics {
			delete(workers, topic)
		}
	} else {
		log.Debug("Unregister all workers").Log()
		clear(workers)
	}
}

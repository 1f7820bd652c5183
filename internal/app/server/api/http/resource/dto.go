package resource

import (
	"edudesk/internal/domain/envelope"
)

type collectionInput struct {
	Collection string `path:"collection" example:"courses" doc:"Коллекция: courses, assignments, events, messages, submissions"`
}

type documentInput struct {
	Collection string `path:"collection" example:"courses" doc:"Коллекция"`
	ID         string `path:"id" example:"c1" doc:"ID документа"`
}

type createInput struct {
	Collection string `path:"collection" example:"messages" doc:"Коллекция"`
	RawBody    []byte `contentType:"application/json"`
}

type updateInput struct {
	Collection string `path:"collection" example:"courses" doc:"Коллекция"`
	ID         string `path:"id" example:"c1" doc:"ID документа"`
	RawBody    []byte `contentType:"application/json"`
}

// output - ответ в конверте {success, data, error}
type output struct {
	Status int
	Body   envelope.Result
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/gorilla/mux"
	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"

	"addipath/pkg/censor"
	"addipath/pkg/models"
	"addipath/pkg/storage"
	"addipath/pkg/thread"
)

const uuidPattern = "[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}"

const (
	HeaderRequestID = "X-Request-Id"
	HeaderUserID    = "X-User-Id"
	HeaderUserName  = "X-User-Name"
	HeaderUserRole  = "X-User-Role"

	roleAdmin = "admin"
)

type API struct {
	ServiceName string
	DB          storage.Storage

	r        *mux.Router
	censor   *censor.Censor
	kw       *kafka.Writer
	validate *validator.Validate
	metrics  *metrics
}

// New creates the forum API. A nil censor accepts any content and a nil Kafka
// writer disables request log shipping.
func New(name string, db storage.Storage, c *censor.Censor, kafkaWriter *kafka.Writer) *API {
	if c == nil {
		c = censor.New()
	}
	api := API{
		ServiceName: name,
		DB:          db,
		r:           mux.NewRouter(),
		censor:      c,
		kw:          kafkaWriter,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		metrics:     newMetrics(name),
	}
	api.endpoints()

	return &api
}

func (api *API) Router() *mux.Router {
	return api.r
}

func (api *API) endpoints() {
	api.r.Use(api.requestIDMiddleware)
	api.r.Use(api.headerMiddleware)
	api.r.Use(api.metricsMiddleware)

	if api.kw != nil {
		api.r.Use(api.loggingMiddleware(api.kw))
	}

	api.r.Handle("/metrics", api.metrics.handler()).Methods(http.MethodGet)

	api.r.HandleFunc("/topics", api.topicsHandler).Methods(http.MethodGet)
	api.r.HandleFunc("/topics", api.addTopicHandler).Methods(http.MethodPost)
	api.r.HandleFunc("/topics/{id:"+uuidPattern+"}", api.updateTopicHandler).Methods(http.MethodPut)
	api.r.HandleFunc("/topics/{id:"+uuidPattern+"}", api.deleteTopicHandler).Methods(http.MethodDelete)

	api.r.HandleFunc("/posts", api.postsHandler).Methods(http.MethodGet)
	api.r.HandleFunc("/posts", api.addPostHandler).Methods(http.MethodPost)
	api.r.HandleFunc("/posts/{id:"+uuidPattern+"}", api.postHandler).Methods(http.MethodGet)

	api.r.HandleFunc("/posts/{id:"+uuidPattern+"}/replies", api.repliesHandler).Methods(http.MethodGet)
	api.r.HandleFunc("/posts/{id:"+uuidPattern+"}/replies", api.addReplyHandler).Methods(http.MethodPost)
	api.r.HandleFunc("/replies/{id:"+uuidPattern+"}/like", api.likeHandler).Methods(http.MethodPost)

	api.r.HandleFunc("/users/{id}/ban", api.banHandler).Methods(http.MethodPut)
}

func (api *API) topicsHandler(w http.ResponseWriter, r *http.Request) {
	sID := shorten(GetRequestID(r.Context()))

	topics, err := api.DB.Topics(r.Context())
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		log.Errorf("[topicsHandler][%s] Topics() returned error: %v", sID, err)
		return
	}

	writeJSON(w, http.StatusOK, topics, "topicsHandler", sID)
}

func (api *API) addTopicHandler(w http.ResponseWriter, r *http.Request) {
	sID := shorten(GetRequestID(r.Context()))

	if !api.admin(w, r, "addTopicHandler", sID) {
		return
	}

	var topic models.Topic
	if !api.decode(w, r, &topic, "addTopicHandler", sID) {
		return
	}
	if api.censor.Check(topic.Title) || api.censor.Check(topic.Description) {
		http.Error(w, "Topic contains forbidden words", http.StatusUnprocessableEntity)
		log.Infof("[addTopicHandler][%s] topic rejected by censor", sID)
		return
	}

	topic, err := api.DB.AddTopic(r.Context(), topic)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		log.Errorf("[addTopicHandler][%s] AddTopic() returned error: %v", sID, err)
		return
	}

	writeJSON(w, http.StatusCreated, topic, "addTopicHandler", sID)
	log.Debugf("[addTopicHandler][%s] topic %v created", sID, topic.ID)
}

func (api *API) updateTopicHandler(w http.ResponseWriter, r *http.Request) {
	sID := shorten(GetRequestID(r.Context()))

	if !api.admin(w, r, "updateTopicHandler", sID) {
		return
	}
	id, ok := pathID(w, r, "updateTopicHandler", sID)
	if !ok {
		return
	}

	var topic models.Topic
	if !api.decode(w, r, &topic, "updateTopicHandler", sID) {
		return
	}
	if api.censor.Check(topic.Title) || api.censor.Check(topic.Description) {
		http.Error(w, "Topic contains forbidden words", http.StatusUnprocessableEntity)
		log.Infof("[updateTopicHandler][%s] topic rejected by censor", sID)
		return
	}
	topic.ID = id

	err := api.DB.UpdateTopic(r.Context(), topic)
	if err == nil {
		topic, err = api.DB.Topic(r.Context(), id)
	}
	if err != nil {
		if errors.Is(err, storage.ErrTopicNotFound) {
			http.Error(w, "Topic not found", http.StatusNotFound)
			log.Debugf("[updateTopicHandler][%s] topic %v not found", sID, id)
			return
		}
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		log.Errorf("[updateTopicHandler][%s] topic ID:%v: %v", sID, id, err)
		return
	}

	writeJSON(w, http.StatusOK, topic, "updateTopicHandler", sID)
}

func (api *API) deleteTopicHandler(w http.ResponseWriter, r *http.Request) {
	sID := shorten(GetRequestID(r.Context()))

	if !api.admin(w, r, "deleteTopicHandler", sID) {
		return
	}
	id, ok := pathID(w, r, "deleteTopicHandler", sID)
	if !ok {
		return
	}

	if err := api.DB.DeleteTopic(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrTopicNotFound) {
			http.Error(w, "Topic not found", http.StatusNotFound)
			log.Debugf("[deleteTopicHandler][%s] topic %v not found", sID, id)
			return
		}
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		log.Errorf("[deleteTopicHandler][%s] topic ID:%v: %v", sID, id, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
	log.Debugf("[deleteTopicHandler][%s] topic %v deleted", sID, id)
}

func (api *API) postsHandler(w http.ResponseWriter, r *http.Request) {
	sID := shorten(GetRequestID(r.Context()))
	query := r.URL.Query()

	var filter storage.PostFilter
	if s := query.Get("topic_id"); s != "" {
		id, err := uuid.FromString(s)
		if err != nil {
			http.Error(w, "Invalid topic_id parameter", http.StatusBadRequest)
			log.Debugf("[postsHandler][%s] failed to parse topic ID: %v", sID, err)
			return
		}
		filter.TopicID = id
	}
	filter.Contains = query.Get("contains")

	page, err := strconv.Atoi(query.Get("page"))
	if err != nil || page < 1 {
		page = 1
	}
	limit, err := strconv.Atoi(query.Get("limit"))
	if err != nil || limit < 1 {
		limit = storage.DefaultLimit
	}
	if limit > storage.MaxLimit {
		http.Error(w, "Limit parameter is too big", http.StatusBadRequest)
		log.Debugf("[postsHandler][%s] request with too big limit parameter", sID)
		return
	}
	filter.Page, filter.Limit = page, limit

	posts, numPages, err := api.DB.Posts(r.Context(), filter)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		log.Errorf("[postsHandler][%s] Posts() returned error: %v", sID, err)
		return
	}

	resp := PostsResponse{
		Posts:      posts,
		Pagination: Pagination{TotalPages: numPages, CurrentPage: page, Limit: limit},
	}
	writeJSON(w, http.StatusOK, resp, "postsHandler", sID)
}

func (api *API) addPostHandler(w http.ResponseWriter, r *http.Request) {
	sID := shorten(GetRequestID(r.Context()))

	user, ok := api.writer(w, r, "addPostHandler", sID)
	if !ok {
		return
	}

	var post models.Post
	if !api.decode(w, r, &post, "addPostHandler", sID) {
		return
	}
	if api.censor.Check(post.Title) || api.censor.Check(post.Content) {
		http.Error(w, "Post contains forbidden words", http.StatusUnprocessableEntity)
		log.Infof("[addPostHandler][%s] post by %s rejected by censor", sID, user.ID)
		return
	}
	post.AuthorID, post.AuthorName = user.ID, user.Name

	post, err := api.DB.AddPost(r.Context(), post)
	if err != nil {
		if errors.Is(err, storage.ErrTopicNotFound) {
			http.Error(w, "Topic not found", http.StatusNotFound)
			log.Debugf("[addPostHandler][%s] %v", sID, err)
			return
		}
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		log.Errorf("[addPostHandler][%s] AddPost() returned error: %v", sID, err)
		return
	}

	writeJSON(w, http.StatusCreated, post, "addPostHandler", sID)
	log.Debugf("[addPostHandler][%s] post %v created", sID, post.ID)
}

func (api *API) postHandler(w http.ResponseWriter, r *http.Request) {
	sID := shorten(GetRequestID(r.Context()))

	id, ok := pathID(w, r, "postHandler", sID)
	if !ok {
		return
	}

	post, err := api.DB.Post(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrPostNotFound) {
			http.Error(w, "Post not found", http.StatusNotFound)
			log.Debugf("[postHandler][%s] failed to retrieve post: %v", sID, err)
			return
		}
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		log.Errorf("[postHandler][%s] post ID:%v: %v", sID, id, err)
		return
	}

	writeJSON(w, http.StatusOK, post, "postHandler", sID)
}

// repliesHandler returns the replies of a post as a flat list in creation
// order, or nested when the view=tree query parameter is set.
func (api *API) repliesHandler(w http.ResponseWriter, r *http.Request) {
	sID := shorten(GetRequestID(r.Context()))

	id, ok := pathID(w, r, "repliesHandler", sID)
	if !ok {
		return
	}

	replies, err := api.DB.Replies(r.Context(), id, r.Header.Get(HeaderUserID))
	if err != nil {
		if errors.Is(err, storage.ErrPostNotFound) {
			http.Error(w, "Post not found", http.StatusNotFound)
			log.Debugf("[repliesHandler][%s] failed to retrieve replies: %v", sID, err)
			return
		}
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		log.Errorf("[repliesHandler][%s] post ID:%v: %v", sID, id, err)
		return
	}

	if r.URL.Query().Get("view") == "tree" {
		replies = thread.BuildTree(replies)
	}

	writeJSON(w, http.StatusOK, replies, "repliesHandler", sID)
}

func (api *API) addReplyHandler(w http.ResponseWriter, r *http.Request) {
	sID := shorten(GetRequestID(r.Context()))

	user, ok := api.writer(w, r, "addReplyHandler", sID)
	if !ok {
		return
	}
	postID, ok := pathID(w, r, "addReplyHandler", sID)
	if !ok {
		return
	}

	var req ReplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Bad Request: invalid JSON", http.StatusBadRequest)
		log.Debugf("[addReplyHandler][%s] failed to decode request body: %v", sID, err)
		return
	}
	defer r.Body.Close()

	nr := models.NewReply{
		PostID:     postID,
		ParentID:   req.ParentID,
		AuthorID:   user.ID,
		AuthorName: user.Name,
		Content:    req.Content,
	}
	if err := api.validate.Struct(nr); err != nil {
		http.Error(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
		log.Debugf("[addReplyHandler][%s] invalid reply: %v", sID, err)
		return
	}
	if api.censor.Check(nr.Content) {
		http.Error(w, "Reply contains forbidden words", http.StatusUnprocessableEntity)
		log.Infof("[addReplyHandler][%s] reply by %s rejected by censor", sID, user.ID)
		return
	}

	reply, err := api.DB.AddReply(r.Context(), nr)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrPostNotFound):
			http.Error(w, "Post not found", http.StatusNotFound)
			log.Debugf("[addReplyHandler][%s] %v", sID, err)
		case errors.Is(err, storage.ErrParentNotFound):
			http.Error(w, "Parent reply not found", http.StatusConflict)
			log.Infof("[addReplyHandler][%s] parent %v not found in post %v", sID, nr.ParentID, postID)
		case errors.Is(err, storage.ErrInvalidReply):
			http.Error(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
			log.Debugf("[addReplyHandler][%s] %v", sID, err)
		default:
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			log.Errorf("[addReplyHandler][%s] AddReply() returned error: %v", sID, err)
		}
		return
	}

	writeJSON(w, http.StatusCreated, reply, "addReplyHandler", sID)
	log.Debugf("[addReplyHandler][%s] reply %v created in post %v", sID, reply.ID, postID)
}

func (api *API) likeHandler(w http.ResponseWriter, r *http.Request) {
	sID := shorten(GetRequestID(r.Context()))

	user, ok := api.writer(w, r, "likeHandler", sID)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "likeHandler", sID)
	if !ok {
		return
	}

	state, err := api.DB.ToggleLike(r.Context(), id, user.ID)
	if err != nil {
		if errors.Is(err, storage.ErrReplyNotFound) {
			http.Error(w, "Reply not found", http.StatusNotFound)
			log.Debugf("[likeHandler][%s] reply %v not found", sID, id)
			return
		}
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		log.Errorf("[likeHandler][%s] reply ID:%v: %v", sID, id, err)
		return
	}

	writeJSON(w, http.StatusOK, state, "likeHandler", sID)
}

func (api *API) banHandler(w http.ResponseWriter, r *http.Request) {
	sID := shorten(GetRequestID(r.Context()))

	if !api.admin(w, r, "banHandler", sID) {
		return
	}
	userID := mux.Vars(r)["id"]

	var req BanRequest
	if !api.decode(w, r, &req, "banHandler", sID) {
		return
	}

	if err := api.DB.SetBanned(r.Context(), userID, *req.Banned); err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		log.Errorf("[banHandler][%s] SetBanned() returned error: %v", sID, err)
		return
	}

	writeJSON(w, http.StatusOK, BanState{UserID: userID, Banned: *req.Banned}, "banHandler", sID)
	log.Infof("[banHandler][%s] user %s banned:%v", sID, userID, *req.Banned)
}

type user struct {
	ID   string
	Name string
}

// writer checks that the request comes from an identified user who is allowed
// to write to the forum. It writes the error response itself.
func (api *API) writer(w http.ResponseWriter, r *http.Request, handler, sID string) (user, bool) {
	u := user{ID: r.Header.Get(HeaderUserID), Name: r.Header.Get(HeaderUserName)}
	if u.ID == "" {
		http.Error(w, "Missing "+HeaderUserID+" header", http.StatusUnauthorized)
		log.Debugf("[%s][%s] anonymous write from %v", handler, sID, r.RemoteAddr)
		return user{}, false
	}

	banned, err := api.DB.IsBanned(r.Context(), u.ID)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		log.Errorf("[%s][%s] IsBanned() returned error: %v", handler, sID, err)
		return user{}, false
	}
	if banned {
		http.Error(w, "User is banned from the forum", http.StatusForbidden)
		log.Infof("[%s][%s] write attempt by banned user %s", handler, sID, u.ID)
		return user{}, false
	}

	return u, true
}

func (api *API) admin(w http.ResponseWriter, r *http.Request, handler, sID string) bool {
	if r.Header.Get(HeaderUserRole) != roleAdmin {
		http.Error(w, "Forbidden", http.StatusForbidden)
		log.Infof("[%s][%s] admin request by %q without admin role", handler, sID, r.Header.Get(HeaderUserID))
		return false
	}
	return true
}

// decode reads a JSON body into v and validates it. It writes a 400 response
// on failure.
func (api *API) decode(w http.ResponseWriter, r *http.Request, v any, handler, sID string) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "Bad Request: invalid JSON", http.StatusBadRequest)
		log.Debugf("[%s][%s] failed to decode request body: %v", handler, sID, err)
		return false
	}
	if err := api.validate.Struct(v); err != nil {
		http.Error(w, "Bad Request: "+err.Error(), http.StatusBadRequest)
		log.Debugf("[%s][%s] validation failed: %v", handler, sID, err)
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, handler, sID string) (uuid.UUID, bool) {
	id, err := uuid.FromString(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Invalid UUID parameter", http.StatusBadRequest)
		log.Debugf("[%s][%s] failed to parse ID: %v", handler, sID, err)
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any, handler, sID string) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		log.Errorf("[%s][%s] failed to encode response data: %v", handler, sID, err)
		return
	}

	w.WriteHeader(status)
	if _, err := w.Write(append(b, '\n')); err != nil {
		log.Errorf("[%s][%s] failed to write response: %v", handler, sID, err)
		return
	}
	log.Debugf("[%s][%s] response sent with status %d", handler, sID, status)
}

// GetRequestID extracts the request ID from the context.
// It returns the request ID as a string if present, otherwise returns an empty string.
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(RequestIDKey).(string); ok {
		return v
	}
	return ""
}

// shorten truncates a string to 6 characters if it is longer than 6, appends '...' at the end,
// otherwise it returns the string unchanged.
func shorten(s string) string {
	if len(s) > 6 {
		return s[:6] + "..."
	}
	return s
}

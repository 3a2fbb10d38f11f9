package fetcher

// Router выбирает загрузчик для цели. Цели, которым нужен JavaScript, идут
// в браузер, если он настроен, остальные по HTTP
type Router struct {
	http   PageFetcher
	render PageFetcher
}

func NewRouter(plain PageFetcher, render PageFetcher) *Router {
	return &Router{http: plain, render: render}
}

// For возвращает загрузчик для цели. Без браузера рендеринг
// откатывается на обычный HTTP
func (r *Router) For(render bool) PageFetcher {
	if render && r.render != nil {
		return r.render
	}
	return r.http
}

// HasRenderer сообщает, подключён ли headless браузер
func (r *Router) HasRenderer() bool {
	return r.render != nil
}

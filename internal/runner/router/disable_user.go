package router

import "go.uber.org/zap"

// DisableUser останавливает воркер. Очередь не закрываем: OnSignal мог
// успеть взять ссылку на сессию.
func (r *Router) DisableUser(userID int64) bool {
	r.mu.Lock()
	e, ok := r.users[userID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.users, userID)
	r.mu.Unlock()

	e.cancel()
	r.log.Info("user disabled", zap.Int64("owner", userID))
	return true
}

// DisableAll — при остановке сервиса.
func (r *Router) DisableAll() {
	r.mu.Lock()
	users := r.users
	r.users = make(map[int64]*entry)
	r.mu.Unlock()

	for _, e := range users {
		e.cancel()
	}
}

// Package access содержит единый список администраторов магазина.
package access

import "sort"

// Policy определяет, какие пользователи обладают правами администратора.
type Policy struct {
	admins map[int64]struct{}
}

// NewPolicy создаёт политику доступа из списка идентификаторов администраторов.
func NewPolicy(adminIDs []int64) *Policy {
	p := &Policy{admins: make(map[int64]struct{}, len(adminIDs))}
	for _, id := range adminIDs {
		if id != 0 {
			p.admins[id] = struct{}{}
		}
	}
	return p
}

// IsAdmin сообщает, является ли пользователь администратором.
func (p *Policy) IsAdmin(userID int64) bool {
	if p == nil {
		return false
	}
	_, ok := p.admins[userID]
	return ok
}

// Admins возвращает отсортированный список администраторов.
func (p *Policy) Admins() []int64 {
	if p == nil {
		return nil
	}
	ids := make([]int64, 0, len(p.admins))
	for id := range p.admins {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

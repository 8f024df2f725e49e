package models

import "encoding/json"

// Cursor - полный URL запроса одной страницы списка.
// Пустой Cursor означает его отсутствие.
type Cursor string

// Absent сообщает, что курсора нет.
func (c Cursor) Absent() bool {
	return c == ""
}

func (c Cursor) String() string {
	return string(c)
}

// UnmarshalJSON превращает JSON null в пустой курсор.
func (c *Cursor) UnmarshalJSON(data []byte) error {
	var s *string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == nil {
		*c = ""
		return nil
	}
	*c = Cursor(*s)
	return nil
}

// MarshalJSON пишет пустой курсор как null, как это делает сервис.
func (c Cursor) MarshalJSON() ([]byte, error) {
	if c.Absent() {
		return []byte("null"), nil
	}
	return json.Marshal(string(c))
}

// PageInfo - метаданные пагинации, приходящие с каждой страницей.
type PageInfo struct {
	Next  Cursor `json:"next"`
	Prev  Cursor `json:"prev"`
	Count int    `json:"count"`
	Pages int    `json:"pages"`
}

// Character представляет один элемент списка. Обязательны только ID, Name и Image,
// остальные поля передаются в шаблоны как есть.
type Character struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Image   string `json:"image"`
	Status  string `json:"status,omitempty"`
	Species string `json:"species,omitempty"`
	Gender  string `json:"gender,omitempty"`
	URL     string `json:"url,omitempty"`
	Created string `json:"created,omitempty"`
}

// Page - тело ответа списка: {"info": {...}, "results": [...]}.
type Page struct {
	Info    PageInfo    `json:"info"`
	Results []Character `json:"results"`
}

// Normalize заменяет отсутствующий массив results пустым.
func (p *Page) Normalize() {
	if p.Results == nil {
		p.Results = []Character{}
	}
}

// IsFirst сообщает, что страница начинает новый список, то есть у неё нет предыдущей.
func (p *Page) IsFirst() bool {
	return p.Info.Prev.Absent()
}

// PageEvent - сообщение в архив, публикуемое для каждой добавленной страницы.
type PageEvent struct {
	Cursor  Cursor      `json:"cursor"`
	Results []Character `json:"results"`
}
